package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/TopicDigest/internal/api"
	"github.com/LJTian/TopicDigest/internal/app"
	"github.com/LJTian/TopicDigest/internal/config"
	"github.com/LJTian/TopicDigest/internal/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("init app failed: %v", err)
	}
	a.Scheduler.Start()

	r := gin.Default()
	// 若配置了访问密码，则启用 Basic Auth 保护（/health 仍然免认证）
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPass != "" {
		r.Use(api.BasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass))
	}
	api.NewServer(a.Store, a.Registry, a.Fetcher, a.Engine, logger).RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server exit: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// 先停止接收请求，再等待调度和在途投递结束
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Warn("app shutdown", "err", err)
	}
	logger.Info("bye")
}
