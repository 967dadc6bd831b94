// Package metrics holds the Prometheus collectors for the chat worker.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chat_worker"

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	quotaDecisions  *prometheus.CounterVec
	modelAttempts   *prometheus.CounterVec
	titles          *prometheus.CounterVec
	memoryUpdates   *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Handled requests by route and status code.",
		}, []string{"route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		quotaDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_decisions_total",
			Help:      "Daily quota admission decisions.",
		}, []string{"decision"}),
		modelAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_attempts_total",
			Help:      "Upstream model calls by model, outcome and whether they were part of a fallback sweep.",
		}, []string{"model", "outcome", "fallback"}),
		titles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "titles_total",
			Help:      "Derived titles by source.",
		}, []string{"source"}),
		memoryUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_updates_total",
			Help:      "Memory summary updates by outcome.",
		}, []string{"outcome"}),
	}
}

// ObserveRequest records one handled request.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveQuota records an admission decision.
func (m *Metrics) ObserveQuota(admitted bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if admitted {
		decision = "admitted"
	}
	m.quotaDecisions.WithLabelValues(decision).Inc()
}

// ObserveAttempt records one upstream model call.
func (m *Metrics) ObserveAttempt(model, outcome string, fallback bool) {
	if m == nil {
		return
	}
	m.modelAttempts.WithLabelValues(model, outcome, strconv.FormatBool(fallback)).Inc()
}

// ObserveTitle records where a title came from: "model", "heuristic" or
// "error".
func (m *Metrics) ObserveTitle(source string) {
	if m == nil {
		return
	}
	m.titles.WithLabelValues(source).Inc()
}

// ObserveMemoryUpdate records a memory summary update outcome.
func (m *Metrics) ObserveMemoryUpdate(outcome string) {
	if m == nil {
		return
	}
	m.memoryUpdates.WithLabelValues(outcome).Inc()
}
