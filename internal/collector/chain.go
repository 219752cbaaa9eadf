package collector

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// Chain 按顺序尝试多个数据源，直到凑够 limit 条；按 URL 去重，保持各源内的原始顺序
type Chain struct {
	sources []Source
	logger  *slog.Logger
}

func NewChain(logger *slog.Logger, sources ...Source) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{sources: sources, logger: logger}
}

func (c *Chain) Name() string {
	names := make([]string, 0, len(c.sources))
	for _, s := range c.sources {
		names = append(names, s.Name())
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Fetch 只有在所有数据源都失败且没有拿到任何条目时才返回错误
func (c *Chain) Fetch(ctx context.Context, topic string, limit int) ([]RawEntry, error) {
	var (
		out  []RawEntry
		errs []error
		seen = make(map[string]struct{})
	)

	for _, src := range c.sources {
		if limit > 0 && len(out) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		// 每个源都按完整 limit 请求，给跨源去重留余量
		entries, err := src.Fetch(ctx, topic, limit)
		if err != nil {
			c.logger.Warn("news source failed", "source", src.Name(), "topic", topic, "err", err)
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			if _, ok := seen[e.URL]; ok {
				continue
			}
			seen[e.URL] = struct{}{}
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}

	if len(out) == 0 && len(errs) > 0 {
		return nil, &FetchError{Source: c.Name(), Err: errors.Join(errs...)}
	}
	return out, nil
}

// BuildSources 按名称构造数据源，未知名称跳过并返回
func BuildSources(names []string, googleURL, lang, region string) ([]Source, []string) {
	var (
		sources []Source
		unknown []string
	)
	for _, name := range names {
		switch name {
		case "google", "google_news":
			sources = append(sources, NewGoogleNewsSource(googleURL, lang, region))
		case "hackernews", "hn":
			sources = append(sources, NewHackerNewsSource())
		case "bing", "bing_news":
			sources = append(sources, NewBingNewsSource())
		default:
			unknown = append(unknown, name)
		}
	}
	return sources, unknown
}
