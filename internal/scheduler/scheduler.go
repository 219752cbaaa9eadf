package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/LJTian/TopicDigest/internal/delivery"
)

// Ticker 由投递引擎实现，测试中可替换
type Ticker interface {
	RunDue(ctx context.Context, kind delivery.Kind) (delivery.TickReport, error)
}

// Scheduler 持有定时器的生命周期：Start 开始按 cron 表达式触发，Stop 等待当前一轮结束
type Scheduler struct {
	cron   *cron.Cron
	ticker Ticker
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	// 每次 Start 重新创建；取消正在执行的一轮只影响尚未开始的订阅，已开始的会走完
	ctx    context.Context
	cancel context.CancelFunc
}

func New(spec string, ticker Ticker, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		// 上一轮未结束时跳过本次触发
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ticker: ticker,
		logger: logger.With("component", "scheduler"),
	}

	if _, err := s.cron.AddFunc(spec, s.runScheduled); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron.Start()
	s.logger.Info("scheduler started", "next", s.cron.Entries()[0].Next)
}

// Stop 停止后续触发并等待正在执行的一轮结束，ctx 到期则提前返回
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()
	if !wasRunning {
		return nil
	}

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// RunOnce 对外暴露的单次执行入口，方便手动触发
func (s *Scheduler) RunOnce(ctx context.Context) (delivery.TickReport, error) {
	return s.ticker.RunDue(ctx, delivery.KindManual)
}

func (s *Scheduler) runCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) runScheduled() {
	report, err := s.ticker.RunDue(s.runCtx(), delivery.KindScheduled)
	if err != nil {
		s.logger.Error("scheduled tick failed", "err", err)
		return
	}
	s.logger.Info("scheduled tick done", "run_id", report.RunID, "processed", report.Processed,
		"sent", report.Sent, "failed", report.Failed, "skipped", report.Skipped)
}
