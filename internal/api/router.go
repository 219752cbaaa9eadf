package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LJTian/TopicDigest/internal/content"
	"github.com/LJTian/TopicDigest/internal/delivery"
	"github.com/LJTian/TopicDigest/internal/storage"
	"github.com/LJTian/TopicDigest/internal/subscription"
)

// Engine 是 API 用到的投递引擎能力
type Engine interface {
	RunDue(ctx context.Context, kind delivery.Kind) (delivery.TickReport, error)
	Welcome(ctx context.Context, sub storage.Subscription) delivery.WelcomeResult
	Status(ctx context.Context) ([]delivery.SubscriptionStatus, error)
	SendTest(ctx context.Context, email, topic string) (delivery.TestResult, error)
}

type Server struct {
	store    *storage.Store
	registry *subscription.Registry
	fetcher  *content.Fetcher
	engine   Engine
	logger   *slog.Logger
}

func NewServer(store *storage.Store, registry *subscription.Registry, fetcher *content.Fetcher, engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    store,
		registry: registry,
		fetcher:  fetcher,
		engine:   engine,
		logger:   logger.With("component", "api"),
	}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/subscriptions", s.createSubscription)
		v1.GET("/subscriptions", s.listSubscriptions)
		v1.GET("/subscriptions/status", s.subscriptionStatus)
		v1.DELETE("/subscriptions/:id", s.deleteSubscription)

		v1.GET("/news", s.listNews)
		v1.POST("/news/collect", s.collectNews)

		v1.POST("/newsletters/send", s.sendNewsletters)
		v1.POST("/newsletters/test", s.testNewsletter)
		v1.GET("/newsletters", s.listNewsletters)
	}
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    data,
	})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"code":    code,
		"message": message,
	})
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.logger.Error(op, "err", err)
	fail(c, http.StatusInternalServerError, "internal_error", "internal server error")
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health: database ping failed", "err", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type createSubscriptionRequest struct {
	Topic     string `json:"topic"`
	Email     string `json:"email"`
	Frequency string `json:"frequency"`
}

func (s *Server) createSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	sub, err := s.registry.Create(c.Request.Context(), req.Topic, req.Email, storage.Frequency(req.Frequency))
	var ve *subscription.ValidationError
	switch {
	case errors.As(err, &ve):
		fail(c, http.StatusBadRequest, "invalid_"+ve.Field, ve.Error())
		return
	case errors.Is(err, subscription.ErrDuplicate):
		fail(c, http.StatusConflict, "duplicate", "already subscribed to this topic")
		return
	case err != nil:
		s.internalError(c, "create subscription", err)
		return
	}

	welcome := s.engine.Welcome(c.Request.Context(), *sub)
	ok(c, http.StatusCreated, gin.H{
		"subscription": sub,
		"welcome":      welcome,
	})
}

func (s *Server) listSubscriptions(c *gin.Context) {
	filter := subscription.Filter{
		Email:      c.Query("email"),
		ActiveOnly: c.Query("all") != "true",
	}
	list, err := s.registry.List(c.Request.Context(), filter)
	if err != nil {
		s.internalError(c, "list subscriptions", err)
		return
	}
	ok(c, http.StatusOK, list)
}

func (s *Server) subscriptionStatus(c *gin.Context) {
	list, err := s.engine.Status(c.Request.Context())
	if err != nil {
		s.internalError(c, "subscription status", err)
		return
	}
	ok(c, http.StatusOK, list)
}

func (s *Server) deleteSubscription(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, "invalid_id", "id must be a positive integer")
		return
	}
	err = s.registry.Deactivate(c.Request.Context(), uint(id))
	if errors.Is(err, subscription.ErrNotFound) {
		fail(c, http.StatusNotFound, "not_found", "subscription not found")
		return
	}
	if err != nil {
		s.internalError(c, "deactivate subscription", err)
		return
	}
	ok(c, http.StatusOK, gin.H{"id": id, "isActive": false})
}

func queryLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func (s *Server) listNews(c *gin.Context) {
	items, err := s.store.ListNews(c.Request.Context(), c.Query("topic"), queryLimit(c, 20, 100))
	if err != nil {
		s.internalError(c, "list news", err)
		return
	}
	ok(c, http.StatusOK, items)
}

type collectRequest struct {
	Topic string `json:"topic"`
	Limit int    `json:"limit"`
}

func (s *Server) collectNews(c *gin.Context) {
	var req collectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Topic == "" {
		fail(c, http.StatusBadRequest, "invalid_topic", "topic is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = content.DefaultLimit
	}

	ctx := c.Request.Context()
	items := s.fetcher.Collect(ctx, req.Topic, req.Limit)
	inserted, err := s.fetcher.Persist(ctx, items)
	if err != nil {
		s.internalError(c, "persist collected news", err)
		return
	}
	ok(c, http.StatusOK, gin.H{
		"topic":     req.Topic,
		"collected": len(items),
		"inserted":  inserted,
		"items":     items,
	})
}

func (s *Server) sendNewsletters(c *gin.Context) {
	report, err := s.engine.RunDue(c.Request.Context(), delivery.KindManual)
	if err != nil {
		s.internalError(c, "manual tick", err)
		return
	}
	ok(c, http.StatusOK, report)
}

type testRequest struct {
	Email string `json:"email"`
	Topic string `json:"topic"`
}

func (s *Server) testNewsletter(c *gin.Context) {
	var req testRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Topic == "" {
		req.Topic = "科技"
	}

	res, err := s.engine.SendTest(c.Request.Context(), req.Email, req.Topic)
	var ve *subscription.ValidationError
	switch {
	case errors.As(err, &ve):
		fail(c, http.StatusBadRequest, "invalid_"+ve.Field, ve.Error())
		return
	case errors.Is(err, delivery.ErrNoContent):
		fail(c, http.StatusNotFound, "no_content", "no news available for this topic")
		return
	case err != nil:
		s.logger.Warn("test email failed", "to", req.Email, "err", err)
		fail(c, http.StatusBadGateway, "delivery_failed", err.Error())
		return
	}
	ok(c, http.StatusOK, res)
}

func (s *Server) listNewsletters(c *gin.Context) {
	var subID uint64
	if v := c.Query("subscription_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid_subscription_id", "subscription_id must be an integer")
			return
		}
		subID = id
	}
	list, err := s.store.ListNewsletters(c.Request.Context(), uint(subID), queryLimit(c, 50, 500))
	if err != nil {
		s.internalError(c, "list newsletters", err)
		return
	}
	ok(c, http.StatusOK, list)
}
