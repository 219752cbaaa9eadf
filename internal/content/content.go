// Package content 封装新闻采集与入库：调用数据源、清洗、按 (url, topic) 幂等写入。
// 采集是尽力而为的，数据源失败只记日志并返回空结果。
package content

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/LJTian/TopicDigest/internal/collector"
	"github.com/LJTian/TopicDigest/internal/metrics"
	"github.com/LJTian/TopicDigest/internal/processor"
	"github.com/LJTian/TopicDigest/internal/storage"
)

const (
	DefaultLimit = 10
	MaxLimit     = 50
)

// PersistenceError 存储层失败，整批已回滚
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type Options struct {
	// FetchTimeout 单次调用数据源的上限，<=0 表示只受调用方 ctx 约束
	FetchTimeout time.Duration
	// RatePerSecond 对数据源的调用频率，<=0 表示不限速
	RatePerSecond float64
	Now           func() time.Time
	Logger        *slog.Logger
}

type Fetcher struct {
	source    collector.Source
	processor *processor.SimpleProcessor
	store     *storage.Store
	limiter   *rate.Limiter
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewFetcher(source collector.Source, store *storage.Store, opts Options) *Fetcher {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Fetcher{
		source:    source,
		processor: processor.NewSimpleProcessor(),
		store:     store,
		limiter:   limiter,
		timeout:   opts.FetchTimeout,
		now:       opts.Now,
		logger:    opts.Logger,
	}
}

// Collect 返回至多 limit 条清洗后的新闻，保持数据源顺序；不会返回错误
func (f *Fetcher) Collect(ctx context.Context, topic string, limit int) []storage.NewsItem {
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	if err := f.limiter.Wait(ctx); err != nil {
		f.logger.Warn("collect: rate limiter wait", "topic", topic, "err", err)
		metrics.RecordFetch("throttled", 0)
		return nil
	}

	start := time.Now()
	entries, err := f.source.Fetch(ctx, topic, limit)
	if err != nil {
		f.logger.Warn("collect: news source failed", "source", f.source.Name(), "topic", topic, "err", err)
		metrics.RecordFetch("error", time.Since(start).Seconds())
		return nil
	}
	metrics.RecordFetch("ok", time.Since(start).Seconds())

	items := f.processor.Process(topic, entries, f.now())
	if len(items) > limit {
		items = items[:limit]
	}
	f.logger.Debug("collect done", "topic", topic, "fetched", len(entries), "kept", len(items))
	return items
}

// Persist 在一个短事务内写入，返回新插入条数；单条失败只跳过该条
func (f *Fetcher) Persist(ctx context.Context, items []storage.NewsItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	n, err := f.store.InsertNewsBatch(ctx, items, func(it storage.NewsItem, err error) {
		f.logger.Warn("persist: skip news item", "url", it.URL, "topic", it.Topic, "err", err)
	})
	if err != nil {
		f.logger.Error("persist: batch rolled back", "items", len(items), "err", err)
		return 0, &PersistenceError{Op: "news batch", Err: err}
	}
	metrics.NewsPersisted.Add(float64(n))
	return n, nil
}

// Recent 读取某主题 since 之后入库的新闻，最新的在前
func (f *Fetcher) Recent(ctx context.Context, topic string, since time.Time, limit int) ([]storage.NewsItem, error) {
	items, err := f.store.RecentNews(ctx, topic, since, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "recent news", Err: err}
	}
	return items, nil
}
