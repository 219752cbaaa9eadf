package storage

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NewsItem 以 (url, topic) 唯一：同一篇文章可以属于多个主题，但同一主题下只存一份
type NewsItem struct {
	ID          string    `gorm:"primaryKey;size:40" json:"id"`
	Title       string    `gorm:"size:500;not null" json:"title"`
	Summary     string    `gorm:"type:text" json:"summary"`
	URL         string    `gorm:"size:1000;not null;uniqueIndex:idx_news_url_topic" json:"url"`
	Source      string    `gorm:"size:100" json:"source"`
	Topic       string    `gorm:"size:200;not null;uniqueIndex:idx_news_url_topic;index:idx_news_topic_created,priority:1" json:"topic"`
	PublishedAt time.Time `gorm:"index" json:"publishedAt"`

	CreatedAt time.Time `gorm:"index:idx_news_topic_created,priority:2" json:"createdAt"`
}

const (
	newsCacheTTL   = 5 * time.Minute
	newsCacheLimit = 100
	newsCacheAll   = "news:list:_all"
)

func newsCacheKey(topic string) string {
	if topic == "" {
		return newsCacheAll
	}
	return "news:list:" + topic
}

// InsertNewsBatch 在一个事务内插入一批新闻，已存在的 (url, topic) 跳过。
// 单条失败回滚到保存点后交给 onItemErr 记录，不影响其余条目；返回新插入的条数。
// 提交失败时整批回滚，返回 0。
func (s *Store) InsertNewsBatch(ctx context.Context, items []NewsItem, onItemErr func(NewsItem, error)) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	inserted := 0
	topics := make(map[string]struct{})
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, it := range items {
			it.Title = truncateRunesDB(toValidUTF8(it.Title), 500)
			it.Summary = toValidUTF8(it.Summary)

			var n int64
			if err := tx.Model(&NewsItem{}).Where("url = ? AND topic = ?", it.URL, it.Topic).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				continue
			}

			if err := tx.SavePoint("news_item").Error; err != nil {
				return err
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&it)
			if res.Error != nil {
				if err := tx.RollbackTo("news_item").Error; err != nil {
					return err
				}
				if onItemErr != nil {
					onItemErr(it, res.Error)
				}
				continue
			}
			if res.RowsAffected > 0 {
				inserted++
				topics[it.Topic] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if inserted > 0 {
		s.invalidateNews(ctx, topics)
	}
	return inserted, nil
}

func (s *Store) invalidateNews(ctx context.Context, topics map[string]struct{}) {
	if s.Redis == nil {
		return
	}
	keys := []string{newsCacheAll}
	for t := range topics {
		keys = append(keys, newsCacheKey(t))
	}
	_ = s.Redis.Del(ctx, keys...).Err()
}

// ListNews 按入库时间倒序返回新闻，topic 为空表示全部；结果在 Redis 缓存 5 分钟
func (s *Store) ListNews(ctx context.Context, topic string, limit int) ([]NewsItem, error) {
	if limit <= 0 || limit > newsCacheLimit {
		limit = 20
	}

	key := newsCacheKey(topic)
	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, key).Bytes(); err == nil {
			var cached []NewsItem
			if err := json.Unmarshal(bs, &cached); err == nil {
				if len(cached) > limit {
					cached = cached[:limit]
				}
				return cached, nil
			}
		}
	}

	db := s.DB.WithContext(ctx).Model(&NewsItem{})
	if topic != "" {
		db = db.Where("topic = ?", topic)
	}
	// 缓存按最大条数回写，不同 limit 的请求共用一份
	var list []NewsItem
	if err := db.Order("created_at DESC").Order("id ASC").Limit(newsCacheLimit).Find(&list).Error; err != nil {
		return nil, err
	}

	if s.Redis != nil && len(list) > 0 {
		if bs, err := json.Marshal(list); err == nil {
			_ = s.Redis.Set(ctx, key, bs, newsCacheTTL).Err()
		}
	}

	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// RecentNews 返回某主题 since 之后入库的新闻，最新的在前
func (s *Store) RecentNews(ctx context.Context, topic string, since time.Time, limit int) ([]NewsItem, error) {
	var list []NewsItem
	err := s.DB.WithContext(ctx).
		Where("topic = ? AND created_at >= ?", topic, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (s *Store) CountNews(ctx context.Context, topic string) (int64, error) {
	var n int64
	db := s.DB.WithContext(ctx).Model(&NewsItem{})
	if topic != "" {
		db = db.Where("topic = ?", topic)
	}
	err := db.Count(&n).Error
	return n, err
}
