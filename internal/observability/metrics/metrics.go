// Package metrics holds the Prometheus collectors of the assistant.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// ChatMetrics exposes counters/histograms for conversation turns.
type ChatMetrics struct {
	turnsTotal     *prometheus.CounterVec
	decisionsTotal *prometheus.CounterVec
	fallbacksTotal *prometheus.CounterVec
	storeErrors    *prometheus.CounterVec
	turnLatency    *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
}

func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	m := &ChatMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "captain",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Conversation turns processed",
		}, []string{"flow", "outcome"}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "captain",
			Subsystem: "chat",
			Name:      "decisions_total",
			Help:      "LLM decisions applied, by action",
		}, []string{"action"}),
		fallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "captain",
			Subsystem: "chat",
			Name:      "fallbacks_total",
			Help:      "Collaborator faults degraded to a fallback value",
		}, []string{"component", "reason"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "captain",
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Conversation store failures",
		}, []string{"op"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "captain",
			Subsystem: "chat",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end latency of a conversation turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "captain",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.decisionsTotal, m.fallbacksTotal, m.storeErrors, m.turnLatency, m.httpRequests)
	return m
}

func (m *ChatMetrics) ObserveTurn(flow, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(flow, outcome).Inc()
	m.turnLatency.WithLabelValues(flow).Observe(seconds)
}

func (m *ChatMetrics) ObserveDecision(action string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(action).Inc()
}

func (m *ChatMetrics) ObserveFallback(component, reason string) {
	if m == nil {
		return
	}
	m.fallbacksTotal.WithLabelValues(component, reason).Inc()
}

func (m *ChatMetrics) ObserveStoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

func (m *ChatMetrics) ObserveHTTP(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
