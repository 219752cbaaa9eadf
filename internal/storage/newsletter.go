package storage

import (
	"context"
	"time"

	"gorm.io/datatypes"
)

const (
	NewsletterSent   = "sent"
	NewsletterFailed = "failed"
)

// Newsletter 每一次投递（成功或失败）的审计记录
type Newsletter struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	SubscriptionID uint              `gorm:"index" json:"subscriptionId"`
	RunID          string            `gorm:"size:36;index" json:"runId"`
	Kind           string            `gorm:"size:16" json:"kind"`
	Subject        string            `gorm:"size:300" json:"subject"`
	Content        string            `gorm:"type:text" json:"content"`
	Status         string            `gorm:"size:16;index" json:"status"`
	Error          string            `gorm:"size:500" json:"error,omitempty"`
	Meta           datatypes.JSONMap `json:"meta"`
	SentAt         time.Time         `gorm:"index" json:"sentAt"`
}

func (s *Store) SaveNewsletter(ctx context.Context, n *Newsletter) error {
	n.Subject = truncateRunesDB(toValidUTF8(n.Subject), 300)
	n.Error = truncateRunesDB(n.Error, 500)
	return s.DB.WithContext(ctx).Create(n).Error
}

// ListNewsletters subscriptionID 为 0 表示不过滤
func (s *Store) ListNewsletters(ctx context.Context, subscriptionID uint, limit int) ([]Newsletter, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	db := s.DB.WithContext(ctx).Model(&Newsletter{})
	if subscriptionID != 0 {
		db = db.Where("subscription_id = ?", subscriptionID)
	}
	var list []Newsletter
	err := db.Order("sent_at DESC").Order("id DESC").Limit(limit).Find(&list).Error
	return list, err
}
