// Package delivery 是订阅投递的核心：判断订阅是否到期，
// 对到期订阅执行 采集 -> 入库 -> 投递 -> 更新 last_sent，并写投递审计记录。
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/LJTian/TopicDigest/internal/content"
	"github.com/LJTian/TopicDigest/internal/lock"
	"github.com/LJTian/TopicDigest/internal/metrics"
	"github.com/LJTian/TopicDigest/internal/notifier"
	"github.com/LJTian/TopicDigest/internal/storage"
	"github.com/LJTian/TopicDigest/internal/subscription"
)

type Kind string

const (
	KindScheduled Kind = "scheduled"
	KindManual    Kind = "manual"
	KindWelcome   Kind = "welcome"
	KindTest      Kind = "test"
)

type Outcome string

const (
	OutcomeSent             Outcome = "SENT"
	OutcomeFailed           Outcome = "FAILED"
	OutcomeSkippedNoContent Outcome = "SKIPPED_NO_CONTENT"
	OutcomeSkippedInFlight  Outcome = "SKIPPED_IN_FLIGHT"
	// 拿到锁后重新读取发现已不到期或已取消
	OutcomeSkippedNotDue Outcome = "SKIPPED_NOT_DUE"
)

const (
	welcomeItemLimit = 5
	testItemLimit    = 3
)

var (
	ErrNoContent = errors.New("delivery: no news available for topic")
	ErrClosed    = errors.New("delivery: engine is shutting down")
)

type Result struct {
	SubscriptionID uint    `json:"subscriptionId"`
	Email          string  `json:"email"`
	Topic          string  `json:"topic"`
	Outcome        Outcome `json:"outcome"`
	Items          int     `json:"items"`
	Error          string  `json:"error,omitempty"`
}

// TickReport 一轮调度的汇总；Total 为扫描的有效订阅数，Processed 为其中到期的数量
type TickReport struct {
	RunID      string    `json:"runId"`
	Kind       Kind      `json:"kind"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Total      int       `json:"total"`
	Processed  int       `json:"processed"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Results    []Result  `json:"results"`
}

type Options struct {
	// ItemLimit 每封摘要最多包含的新闻数
	ItemLimit int
	// Concurrency 一轮内并行处理的订阅数，1 为顺序处理
	Concurrency     int
	WelcomeWindow   time.Duration
	DeliveryTimeout time.Duration
	Now             func() time.Time
	Logger          *slog.Logger
}

type Engine struct {
	registry *subscription.Registry
	fetcher  *content.Fetcher
	notifier notifier.Notifier
	store    *storage.Store
	locker   lock.Locker

	itemLimit       int
	concurrency     int
	welcomeWindow   time.Duration
	deliveryTimeout time.Duration
	now             func() time.Time
	logger          *slog.Logger

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

func NewEngine(registry *subscription.Registry, fetcher *content.Fetcher, n notifier.Notifier, store *storage.Store, locker lock.Locker, opts Options) *Engine {
	if opts.ItemLimit <= 0 {
		opts.ItemLimit = 10
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.WelcomeWindow <= 0 {
		opts.WelcomeWindow = 7 * 24 * time.Hour
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 2 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &Engine{
		registry:        registry,
		fetcher:         fetcher,
		notifier:        n,
		store:           store,
		locker:          locker,
		itemLimit:       opts.ItemLimit,
		concurrency:     opts.Concurrency,
		welcomeWindow:   opts.WelcomeWindow,
		deliveryTimeout: opts.DeliveryTimeout,
		now:             opts.Now,
		logger:          opts.Logger.With("component", "delivery"),
	}
}

func lockKey(id uint) string {
	return "subscription:" + strconv.FormatUint(uint64(id), 10)
}

// begin 登记一个在途流程；Wait 开始后拒绝新的流程
func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing {
		return false
	}
	e.inflight.Add(1)
	return true
}

// RunDue 扫描全部有效订阅并处理到期的；单个订阅失败不影响其余订阅
func (e *Engine) RunDue(ctx context.Context, kind Kind) (TickReport, error) {
	if !e.begin() {
		return TickReport{Kind: kind}, ErrClosed
	}
	defer e.inflight.Done()

	report := TickReport{
		RunID:     uuid.NewString(),
		Kind:      kind,
		StartedAt: e.now(),
	}
	metrics.TickTotal.WithLabelValues(string(kind)).Inc()
	log := e.logger.With("run_id", report.RunID, "kind", kind)

	subs, err := e.registry.List(ctx, subscription.Filter{ActiveOnly: true})
	if err != nil {
		report.FinishedAt = e.now()
		log.Error("tick: list subscriptions", "err", err)
		return report, fmt.Errorf("list active subscriptions: %w", err)
	}
	report.Total = len(subs)

	now := e.now()
	due := make([]storage.Subscription, 0, len(subs))
	for _, s := range subs {
		if IsDue(s, now) {
			due = append(due, s)
		}
	}
	report.Processed = len(due)
	log.Info("tick start", "active", len(subs), "due", len(due))

	results := make([]Result, len(due))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, sub := range due {
		g.Go(func() error {
			results[i] = e.process(ctx, report.RunID, kind, sub)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		switch r.Outcome {
		case OutcomeSent:
			report.Sent++
		case OutcomeFailed:
			report.Failed++
		default:
			report.Skipped++
		}
	}
	report.Results = results
	report.FinishedAt = e.now()

	log.Info("tick done", "processed", report.Processed, "sent", report.Sent,
		"failed", report.Failed, "skipped", report.Skipped, "took", report.FinishedAt.Sub(report.StartedAt))
	return report, nil
}

// process 单个订阅的完整流程，panic 也只记为该订阅失败
func (e *Engine) process(ctx context.Context, runID string, kind Kind, sub storage.Subscription) (res Result) {
	start := time.Now()
	res = Result{SubscriptionID: sub.ID, Email: sub.Email, Topic: sub.Topic}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("pipeline panic", "subscription_id", sub.ID, "panic", r)
			res.Outcome = OutcomeFailed
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		metrics.RecordDelivery(string(res.Outcome), time.Since(start).Seconds())
	}()

	unlock, ok, err := e.locker.TryLock(ctx, lockKey(sub.ID))
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Error = "acquire lock: " + err.Error()
		return res
	}
	if !ok {
		e.logger.Info("subscription in flight, skip", "subscription_id", sub.ID)
		res.Outcome = OutcomeSkippedInFlight
		return res
	}
	defer unlock()

	// 可能有并发的另一轮刚发完
	fresh, err := e.registry.Get(ctx, sub.ID)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Error = "reload subscription: " + err.Error()
		return res
	}
	if !fresh.IsActive || !IsDue(*fresh, e.now()) {
		res.Outcome = OutcomeSkippedNotDue
		return res
	}

	items := e.fetcher.Collect(ctx, fresh.Topic, e.itemLimit)
	if len(items) == 0 {
		e.logger.Info("no content, keep due", "subscription_id", sub.ID, "topic", fresh.Topic)
		res.Outcome = OutcomeSkippedNoContent
		return res
	}

	return e.send(ctx, runID, kind, *fresh, items, true, false)
}

// send 入库（可选）-> 投递 -> 成功后 MarkSent，三步之间不持有事务。
// 投递结束后的写操作脱离调用方的取消，保证状态一致。
func (e *Engine) send(ctx context.Context, runID string, kind Kind, sub storage.Subscription, items []storage.NewsItem, persist, welcome bool) Result {
	res := Result{SubscriptionID: sub.ID, Email: sub.Email, Topic: sub.Topic, Items: len(items)}
	log := e.logger.With("run_id", runID, "subscription_id", sub.ID, "topic", sub.Topic)

	if persist {
		if n, err := e.fetcher.Persist(ctx, items); err != nil {
			log.Warn("persist before send failed, sending anyway", "err", err)
		} else {
			log.Debug("news persisted", "inserted", n, "items", len(items))
		}
	}

	digest := notifier.Digest{Recipient: sub.Email, Topic: sub.Topic, Items: items, Welcome: welcome}
	dctx, cancel := context.WithTimeout(ctx, e.deliveryTimeout)
	err := e.notifier.Deliver(dctx, digest)
	cancel()

	sentAt := e.now()
	detached := context.WithoutCancel(ctx)
	if err != nil {
		log.Warn("deliver failed, subscription stays due", "err", err)
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		e.audit(detached, runID, kind, sub.ID, digest, sentAt, err)
		return res
	}

	if err := e.registry.MarkSent(detached, sub.ID, sentAt); err != nil {
		// 邮件已发出但状态未更新，下一轮会重发
		log.Error("mark sent failed after delivery", "err", err)
		res.Outcome = OutcomeFailed
		res.Error = "mark sent: " + err.Error()
		e.audit(detached, runID, kind, sub.ID, digest, sentAt, nil)
		return res
	}

	res.Outcome = OutcomeSent
	e.audit(detached, runID, kind, sub.ID, digest, sentAt, nil)
	log.Info("digest delivered", "items", len(items))
	return res
}

// audit 尽力写入投递记录，失败只记日志
func (e *Engine) audit(ctx context.Context, runID string, kind Kind, subID uint, d notifier.Digest, at time.Time, deliverErr error) {
	if e.store == nil {
		return
	}
	rendered, _ := notifier.Render(d, at)

	urls := make([]string, 0, len(d.Items))
	for _, it := range d.Items {
		urls = append(urls, it.URL)
	}
	meta := map[string]any{
		"recipient": d.Recipient,
		"topic":     d.Topic,
		"itemCount": len(d.Items),
		"urls":      urls,
	}

	row := &storage.Newsletter{
		SubscriptionID: subID,
		RunID:          runID,
		Kind:           string(kind),
		Subject:        rendered.Subject,
		Content:        rendered.HTML,
		Status:         storage.NewsletterSent,
		Meta:           meta,
		SentAt:         at.UTC(),
	}
	if deliverErr != nil {
		row.Status = storage.NewsletterFailed
		row.Error = deliverErr.Error()
		var de *notifier.DeliveryError
		if errors.As(deliverErr, &de) {
			meta["errorKind"] = string(de.Kind)
			meta["attempts"] = de.Attempts
		}
	}
	if err := e.store.SaveNewsletter(ctx, row); err != nil {
		e.logger.Warn("save newsletter audit", "subscription_id", subID, "err", err)
	}
}

// Wait 停止接受新的流程，并等待正在执行的投递结束或 ctx 到期
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
