package storage

import (
	"context"
	"time"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// Subscription 一条订阅记录；取消订阅只把 IsActive 置为 false，不做物理删除。
// idx_sub_active_topic_email 是部分唯一索引：同一 (topic, email) 只允许一条有效订阅。
type Subscription struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Topic     string     `gorm:"size:200;not null;uniqueIndex:idx_sub_active_topic_email,where:is_active = true" json:"topic"`
	Email     string     `gorm:"size:120;not null;index;uniqueIndex:idx_sub_active_topic_email,where:is_active = true" json:"email"`
	Frequency Frequency  `gorm:"size:20;not null" json:"frequency"`
	IsActive  bool       `gorm:"not null;index" json:"isActive"`
	LastSent  *time.Time `json:"lastSent"`

	CreatedAt time.Time `gorm:"<-:create" json:"createdAt"`
}

func (s *Store) CreateSubscription(ctx context.Context, sub *Subscription) error {
	err := s.DB.WithContext(ctx).Create(sub).Error
	if isUniqueViolation(err) {
		return ErrUniqueViolation
	}
	return err
}

// FindActiveSubscription 返回 (topic, email) 当前有效的订阅，没有时返回 nil, nil
func (s *Store) FindActiveSubscription(ctx context.Context, topic, email string) (*Subscription, error) {
	var list []Subscription
	err := s.DB.WithContext(ctx).
		Where("topic = ? AND email = ? AND is_active = ?", topic, email, true).
		Limit(1).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (s *Store) GetSubscription(ctx context.Context, id uint) (*Subscription, error) {
	var sub Subscription
	if err := s.DB.WithContext(ctx).First(&sub, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

// ListSubscriptions email 为空表示不过滤
func (s *Store) ListSubscriptions(ctx context.Context, email string, activeOnly bool) ([]Subscription, error) {
	db := s.DB.WithContext(ctx).Model(&Subscription{})
	if email != "" {
		db = db.Where("email = ?", email)
	}
	if activeOnly {
		db = db.Where("is_active = ?", true)
	}

	var list []Subscription
	if err := db.Order("id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// DeactivateSubscription 幂等：已经失效的订阅再次取消不会报错
func (s *Store) DeactivateSubscription(ctx context.Context, id uint) error {
	sub, err := s.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	if !sub.IsActive {
		return nil
	}
	return s.DB.WithContext(ctx).Model(&Subscription{}).
		Where("id = ?", id).
		Update("is_active", false).Error
}

func (s *Store) UpdateLastSent(ctx context.Context, id uint, ts time.Time) error {
	res := s.DB.WithContext(ctx).Model(&Subscription{}).
		Where("id = ?", id).
		Update("last_sent", ts)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
