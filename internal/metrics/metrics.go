// Package metrics provides Prometheus collectors for the access layer.
// Collectors live on a private registry exposed through Handler. All methods
// are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Access metrics
	decisions        *prometheus.CounterVec
	adminCommands    *prometheus.CounterVec
	policyGeneration prometheus.Gauge
	connected        prometheus.Gauge
	severed          prometheus.Counter

	// Balance oracle metrics
	balanceRefresh         *prometheus.CounterVec
	balanceRefreshDuration prometheus.Histogram
}

// New creates collectors under namespace and registers them on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "access_layer"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"service", "method", "path", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"service", "method", "path"},
	)

	m.decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "decisions_total",
			Help:      "Access decisions by outcome and denial reason.",
		},
		[]string{"outcome", "reason"},
	)

	m.adminCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "commands_total",
			Help:      "Admin commands by action and result.",
		},
		[]string{"action", "result"},
	)

	m.policyGeneration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "generation",
			Help:      "Id of the currently published policy snapshot.",
		},
	)

	m.connected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "connected",
			Help:      "Accounts currently in the Connected state.",
		},
	)

	m.severed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "severed_total",
			Help:      "Sessions severed by admin commands.",
		},
	)

	m.balanceRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "balance_refresh_total",
			Help:      "Balance refresh runs by result.",
		},
		[]string{"result"},
	)

	m.balanceRefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "balance_refresh_duration_seconds",
			Help:      "Duration of balance refresh runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.decisions,
		m.adminCommands,
		m.policyGeneration,
		m.connected,
		m.severed,
		m.balanceRefresh,
		m.balanceRefreshDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementInFlight() {
	if m == nil {
		return
	}
	m.httpInFlight.Inc()
}

func (m *Metrics) DecrementInFlight() {
	if m == nil {
		return
	}
	m.httpInFlight.Dec()
}

// RecordHTTPRequest records a completed request. path should be a route
// template, not the raw URL, to keep label cardinality bounded.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordDecision counts an access decision.
func (m *Metrics) RecordDecision(outcome, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "none"
	}
	m.decisions.WithLabelValues(outcome, reason).Inc()
}

// RecordAdminCommand counts an admin command; result is "ok" or the error code.
func (m *Metrics) RecordAdminCommand(action, result string) {
	if m == nil {
		return
	}
	m.adminCommands.WithLabelValues(action, result).Inc()
}

func (m *Metrics) SetPolicyGeneration(id uint64) {
	if m == nil {
		return
	}
	m.policyGeneration.Set(float64(id))
}

func (m *Metrics) SetConnectedSessions(n int) {
	if m == nil {
		return
	}
	m.connected.Set(float64(n))
}

func (m *Metrics) RecordSevered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.severed.Add(float64(n))
}

// RecordBalanceRefresh records one oracle refresh run.
func (m *Metrics) RecordBalanceRefresh(duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.balanceRefresh.WithLabelValues(result).Inc()
	m.balanceRefreshDuration.Observe(duration.Seconds())
}
