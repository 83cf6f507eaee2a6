// Package metrics holds the Prometheus collectors shared by the worker and
// page processes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storyapp"

// Outcome labels for cache strategies.
const (
	OutcomeHit         = "hit"
	OutcomeMiss        = "miss"
	OutcomeNetwork     = "network"
	OutcomeFallback    = "fallback"
	OutcomeRevalidated = "revalidated"
	OutcomeError       = "error"
)

// Metrics bundles every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	CacheStrategy     *prometheus.CounterVec
	PushReceived      *prometheus.CounterVec
	NotificationClick *prometheus.CounterVec
	SubscriptionOps   *prometheus.CounterVec
	BackendDuration   *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		CacheStrategy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_strategy_total",
			Help:      "Requests answered by a caching strategy, by cache and outcome",
		}, []string{"cache", "strategy", "outcome"}),
		PushReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_received_total",
			Help:      "Push deliveries received, by decoded payload format",
		}, []string{"format"}),
		NotificationClick: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_click_total",
			Help:      "Notification clicks, by resulting action",
		}, []string{"action"}),
		SubscriptionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_ops_total",
			Help:      "Push subscription operations, by operation and result",
		}, []string{"op", "result"}),
		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Story API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "method"}),
	}

	for _, c := range []prometheus.Collector{
		m.CacheStrategy, m.PushReceived, m.NotificationClick, m.SubscriptionOps, m.BackendDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordCache counts one strategy outcome.
func (m *Metrics) RecordCache(cache, strategy, outcome string) {
	if m == nil {
		return
	}
	m.CacheStrategy.WithLabelValues(cache, strategy, outcome).Inc()
}

// RecordPush counts one received push by payload format.
func (m *Metrics) RecordPush(format string) {
	if m == nil {
		return
	}
	m.PushReceived.WithLabelValues(format).Inc()
}

// RecordClick counts one notification click by action.
func (m *Metrics) RecordClick(action string) {
	if m == nil {
		return
	}
	m.NotificationClick.WithLabelValues(action).Inc()
}

// RecordSubscription counts one subscribe/unsubscribe attempt.
func (m *Metrics) RecordSubscription(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SubscriptionOps.WithLabelValues(op, result).Inc()
}

// ObserveBackend records the latency of one backend call.
func (m *Metrics) ObserveBackend(endpoint, method string, seconds float64) {
	if m == nil {
		return
	}
	m.BackendDuration.WithLabelValues(endpoint, method).Observe(seconds)
}
