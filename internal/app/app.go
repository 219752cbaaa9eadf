// Package app 根据配置一次性装配所有组件，供 cmd 下的各个入口复用
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/LJTian/TopicDigest/internal/collector"
	"github.com/LJTian/TopicDigest/internal/config"
	"github.com/LJTian/TopicDigest/internal/content"
	"github.com/LJTian/TopicDigest/internal/delivery"
	"github.com/LJTian/TopicDigest/internal/lock"
	"github.com/LJTian/TopicDigest/internal/notifier"
	"github.com/LJTian/TopicDigest/internal/scheduler"
	"github.com/LJTian/TopicDigest/internal/storage"
	"github.com/LJTian/TopicDigest/internal/subscription"
)

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     *storage.Store
	Registry  *subscription.Registry
	Fetcher   *content.Fetcher
	Notifier  notifier.Notifier
	Engine    *delivery.Engine
	Scheduler *scheduler.Scheduler
}

// New 打开存储并构造各组件；配置错误直接返回，由调用方决定是否退出
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dsn := cfg.Database.PostgresDSN
	if cfg.Database.Driver == config.DriverSQLite {
		dsn = cfg.Database.SQLitePath
	}
	store, err := storage.NewStore(cfg.Database.Driver, dsn, cfg.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	a, err := NewWithStore(cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// NewWithStore 使用已打开的存储装配，测试中配合 storagetest 使用
func NewWithStore(cfg *config.Config, store *storage.Store, logger *slog.Logger) (*App, error) {
	sources, unknown := collector.BuildSources(cfg.News.Sources, cfg.News.GoogleNewsURL, cfg.News.Lang, cfg.News.Region)
	if len(unknown) > 0 {
		logger.Warn("unknown news sources ignored", "sources", unknown)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no usable news source in %v", cfg.News.Sources)
	}
	source := collector.Source(collector.NewChain(logger.With("component", "collector"), sources...))

	fetcher := content.NewFetcher(source, store, content.Options{
		FetchTimeout:  cfg.News.FetchTimeout,
		RatePerSecond: cfg.News.RatePerSecond,
		Now:           config.Now,
		Logger:        logger.With("component", "content"),
	})

	n, err := NewNotifier(cfg.Email, logger)
	if err != nil {
		return nil, err
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	deliveryTimeout := cfg.Email.Timeout*time.Duration(max(cfg.Email.MaxAttempts, 1)) + time.Minute
	if store.Redis != nil {
		locker = lock.NewMulti(logger, locker, lock.NewRedisLocker(store.Redis, deliveryTimeout+cfg.News.FetchTimeout))
	}

	registry := subscription.NewRegistry(store)
	engine := delivery.NewEngine(registry, fetcher, n, store, locker, delivery.Options{
		ItemLimit:       cfg.Scheduler.DigestItemLimit,
		Concurrency:     cfg.Scheduler.TickConcurrency,
		WelcomeWindow:   cfg.Scheduler.WelcomeWindow,
		DeliveryTimeout: deliveryTimeout,
		Now:             config.Now,
		Logger:          logger,
	})

	sched, err := scheduler.New(cfg.Scheduler.CronSpec, engine, logger)
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Registry:  registry,
		Fetcher:   fetcher,
		Notifier:  n,
		Engine:    engine,
		Scheduler: sched,
	}, nil
}

// NewNotifier 按 EMAIL_MODE 选择实现，只在启动时调用一次
func NewNotifier(cfg config.EmailConfig, logger *slog.Logger) (notifier.Notifier, error) {
	switch cfg.Mode {
	case config.EmailModeSMTP:
		n, err := notifier.NewSMTPNotifier(notifier.SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.Username,
			Password:    cfg.Password,
			Sender:      cfg.Sender,
			Timeout:     cfg.Timeout,
			MaxAttempts: cfg.MaxAttempts,
		}, logger.With("component", "smtp"))
		if err != nil {
			return nil, fmt.Errorf("init smtp notifier: %w", err)
		}
		logger.Info("email mode: smtp", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
		return n, nil
	case config.EmailModeMock, "":
		logger.Info("email mode: mock", "outbox", cfg.OutboxDir)
		return notifier.NewRecordingNotifier(cfg.OutboxDir, logger.With("component", "mock-email")), nil
	default:
		return nil, fmt.Errorf("unknown email mode %q", cfg.Mode)
	}
}

// Shutdown 停止调度并等待在途投递完成，然后关闭存储
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.Scheduler.Stop(ctx); err != nil {
		a.Logger.Warn("scheduler stop", "err", err)
	}
	if err := a.Engine.Wait(ctx); err != nil {
		a.Logger.Warn("wait in-flight deliveries", "err", err)
	}
	return a.Store.Close()
}
