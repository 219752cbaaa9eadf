package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/LJTian/TopicDigest/internal/app"
	"github.com/LJTian/TopicDigest/internal/config"
	"github.com/LJTian/TopicDigest/internal/logging"
	"github.com/LJTian/TopicDigest/internal/subscription"
)

// 一个仅执行一次采集任务的命令行入口：为所有有效订阅的主题预取新闻后退出，
// 之后的新订阅可以直接用库里的新闻发送欢迎邮件
func main() {
	limit := flag.Int("limit", 10, "max items per topic")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall timeout")
	flag.Parse()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("init app failed: %v", err)
	}
	defer a.Store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	topics, err := activeTopics(ctx, a.Registry)
	if err != nil {
		log.Fatalf("list subscriptions failed: %v", err)
	}

	total := 0
	for _, topic := range topics {
		items := a.Fetcher.Collect(ctx, topic, *limit)
		n, err := a.Fetcher.Persist(ctx, items)
		if err != nil {
			logger.Error("persist failed", "topic", topic, "err", err)
			continue
		}
		total += n
		logger.Info("topic collected", "topic", topic, "fetched", len(items), "inserted", n)
	}
	logger.Info("collect job done", "topics", len(topics), "inserted", total)
}

// activeTopics 按首次出现的顺序去重
func activeTopics(ctx context.Context, reg *subscription.Registry) ([]string, error) {
	subs, err := reg.List(ctx, subscription.Filter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(subs))
	var topics []string
	for _, s := range subs {
		if _, ok := seen[s.Topic]; ok {
			continue
		}
		seen[s.Topic] = struct{}{}
		topics = append(topics, s.Topic)
	}
	return topics, nil
}
