package delivery

import (
	"time"

	"github.com/LJTian/TopicDigest/internal/storage"
)

const (
	DailyInterval   = 24 * time.Hour
	WeeklyInterval  = 7 * 24 * time.Hour
	MonthlyInterval = 30 * 24 * time.Hour // 固定按 30 天计，不按自然月
)

// Interval 频率对应的最小发送间隔，未知频率按 daily 处理
func Interval(f storage.Frequency) time.Duration {
	switch f {
	case storage.FrequencyWeekly:
		return WeeklyInterval
	case storage.FrequencyMonthly:
		return MonthlyInterval
	default:
		return DailyInterval
	}
}

// IsDue 从未发送过的订阅总是到期；否则距上次成功发送满一个间隔即到期
func IsDue(sub storage.Subscription, now time.Time) bool {
	if sub.LastSent == nil {
		return true
	}
	return now.Sub(*sub.LastSent) >= Interval(sub.Frequency)
}

// NextDueAt 从未发送过时返回零值
func NextDueAt(sub storage.Subscription) time.Time {
	if sub.LastSent == nil {
		return time.Time{}
	}
	return sub.LastSent.Add(Interval(sub.Frequency))
}
