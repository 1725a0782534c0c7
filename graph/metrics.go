package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for engine, resilience, and
// connection-pool activity. Metric names match
// src/core/error/metrics.rs in the Rust source this package's
// specification was distilled from, so dashboards built against that
// system carry over unchanged.
type Metrics struct {
	errorsByCategory *prometheus.CounterVec
	errorsBySeverity *prometheus.CounterVec

	retryAttempts  *prometheus.CounterVec
	retrySuccesses *prometheus.CounterVec

	circuitBreakerTransitions *prometheus.CounterVec
	recoveryAttempts          *prometheus.CounterVec

	errorHandlingDuration prometheus.Histogram
	nodeProcessDuration   *prometheus.HistogramVec

	poolConnections *prometheus.GaugeVec

	enabled bool
}

// NewMetrics registers and returns a Metrics collector against registry. A
// nil registry falls back to prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)

	return &Metrics{
		enabled: true,

		errorsByCategory: f.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_by_category",
			Help: "Errors observed, labeled by taxonomy kind and stable code.",
		}, []string{"kind", "code"}),

		errorsBySeverity: f.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_by_severity",
			Help: "Errors observed, labeled by severity.",
		}, []string{"severity"}),

		retryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Retry attempts made beyond the initial try.",
		}, []string{"service"}),

		retrySuccesses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "retry_successes_total",
			Help: "Calls that ultimately succeeded after at least one retry.",
		}, []string{"service"}),

		circuitBreakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"from", "to", "service"}),

		recoveryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recovery_attempts_total",
			Help: "Resilience recovery attempts, labeled by strategy and whether they succeeded.",
		}, []string{"strategy", "success"}),

		errorHandlingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "error_handling_duration_seconds",
			Help:    "Time spent classifying and routing an error through the resilience stack.",
			Buckets: prometheus.DefBuckets,
		}),

		nodeProcessDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "node_process_duration_seconds",
			Help:    "Node Process() execution duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"node_key", "status"}),

		poolConnections: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_connections",
			Help: "Current connection count per server and state.",
		}, []string{"server", "state"}),
	}
}

// RecordError records an error observation by kind, code and severity.
func (m *Metrics) RecordError(we *WorkflowError) {
	if m == nil || !m.enabled || we == nil {
		return
	}
	m.errorsByCategory.WithLabelValues(string(we.Kind), we.Code).Inc()
	m.errorsBySeverity.WithLabelValues(string(we.Severity)).Inc()
}

// RecordRetry records attempts beyond the first for service, and whether
// the call ultimately succeeded.
func (m *Metrics) RecordRetry(service string, extraAttempts int, succeeded bool) {
	if m == nil || !m.enabled || extraAttempts <= 0 {
		return
	}
	m.retryAttempts.WithLabelValues(service).Add(float64(extraAttempts))
	if succeeded {
		m.retrySuccesses.WithLabelValues(service).Inc()
	}
}

// RecordCircuitTransition records a breaker state change.
func (m *Metrics) RecordCircuitTransition(service string, from, to BreakerState) {
	if m == nil || !m.enabled {
		return
	}
	m.circuitBreakerTransitions.WithLabelValues(string(from), string(to), service).Inc()
}

// RecordRecoveryAttempt records whether strategy rescued a failing call.
func (m *Metrics) RecordRecoveryAttempt(strategy RecoveryStrategy, succeeded bool) {
	if m == nil || !m.enabled {
		return
	}
	success := "false"
	if succeeded {
		success = "true"
	}
	m.recoveryAttempts.WithLabelValues(string(strategy), success).Inc()
}

// ObserveErrorHandlingDuration records the time spent routing an error
// through the resilience stack.
func (m *Metrics) ObserveErrorHandlingDuration(d time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.errorHandlingDuration.Observe(d.Seconds())
}

// ObserveNodeProcessDuration records how long a node's Process call took.
func (m *Metrics) ObserveNodeProcessDuration(nodeKey, status string, d time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.nodeProcessDuration.WithLabelValues(nodeKey, status).Observe(d.Seconds())
}

// SetPoolGauge sets the current connection count for server in state.
func (m *Metrics) SetPoolGauge(server, state string, count int) {
	if m == nil || !m.enabled {
		return
	}
	m.poolConnections.WithLabelValues(server, state).Set(float64(count))
}

// Disable stops recording without unregistering collectors.
func (m *Metrics) Disable() { m.enabled = false }

// Enable resumes recording.
func (m *Metrics) Enable() { m.enabled = true }
