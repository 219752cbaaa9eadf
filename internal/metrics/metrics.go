// Package metrics 暴露调度、投递与采集相关的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TickTotal 每轮调度（定时或手动）计一次
	TickTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "topicdigest",
			Name:      "tick_total",
			Help:      "Total number of delivery ticks",
		},
		[]string{"kind"},
	)

	DeliveryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "topicdigest",
			Name:      "delivery_total",
			Help:      "Send pipeline outcomes per subscription",
		},
		[]string{"outcome"},
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "topicdigest",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of one subscription send pipeline",
			Buckets:   prometheus.DefBuckets,
		},
	)

	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "topicdigest",
			Name:      "fetch_total",
			Help:      "News source calls by status",
		},
		[]string{"status"},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "topicdigest",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of news source calls",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
	)

	NewsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "topicdigest",
			Name:      "news_persisted_total",
			Help:      "Newly inserted news items",
		},
	)
)

func RecordFetch(status string, seconds float64) {
	FetchTotal.WithLabelValues(status).Inc()
	if seconds > 0 {
		FetchDuration.Observe(seconds)
	}
}

func RecordDelivery(outcome string, seconds float64) {
	DeliveryTotal.WithLabelValues(outcome).Inc()
	DeliveryDuration.Observe(seconds)
}
