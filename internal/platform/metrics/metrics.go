package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service. Methods are nil-safe
// so components can run without observability wired (tests, tooling).
type Metrics struct {
	ActionsExecuted     *prometheus.CounterVec
	ApprovalsResolved   *prometheus.CounterVec
	AuditAppendsDropped prometheus.Counter
	AuditSinkFailures   prometheus.Counter
	RealtimeReconnects  prometheus.Counter
	RealtimeState       prometheus.Gauge
	RequestLatency      *prometheus.HistogramVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		ActionsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voidstream_actions_executed_total",
			Help: "Total stream actions executed by action tag and outcome",
		}, []string{"action", "outcome"}),

		ApprovalsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voidstream_approvals_resolved_total",
			Help: "Total approvals that reached a terminal or approved state",
		}, []string{"status"}),

		AuditAppendsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voidstream_audit_appends_dropped_total",
			Help: "Audit entries dropped after all encoding strategies failed",
		}),

		AuditSinkFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voidstream_audit_sink_failures_total",
			Help: "Audit entries the async sink failed to publish",
		}),

		RealtimeReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voidstream_realtime_reconnects_total",
			Help: "Reconnect attempts made by the realtime balance client",
		}),

		RealtimeState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voidstream_realtime_connection_state",
			Help: "Realtime client state: 0 disconnected, 1 connecting, 2 connected, 3 permanently disabled",
		}),

		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voidstream_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status class",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "status"}),
	}
}

// IncActionExecuted records one executor invocation outcome.
func (m *Metrics) IncActionExecuted(action, outcome string) {
	if m != nil {
		m.ActionsExecuted.WithLabelValues(action, outcome).Inc()
	}
}

// IncApprovalResolved records an approval reaching approved/executed/rejected.
func (m *Metrics) IncApprovalResolved(status string) {
	if m != nil {
		m.ApprovalsResolved.WithLabelValues(status).Inc()
	}
}

// IncAuditAppendDropped records a fully failed audit append.
func (m *Metrics) IncAuditAppendDropped() {
	if m != nil {
		m.AuditAppendsDropped.Inc()
	}
}

// IncAuditSinkFailure records an async sink publish failure.
func (m *Metrics) IncAuditSinkFailure() {
	if m != nil {
		m.AuditSinkFailures.Inc()
	}
}

// IncRealtimeReconnect records one reconnect attempt.
func (m *Metrics) IncRealtimeReconnect() {
	if m != nil {
		m.RealtimeReconnects.Inc()
	}
}

// SetRealtimeState records the realtime client connection state.
func (m *Metrics) SetRealtimeState(state float64) {
	if m != nil {
		m.RealtimeState.Set(state)
	}
}

// ObserveRequest records one HTTP request duration.
func (m *Metrics) ObserveRequest(route, status string, d time.Duration) {
	if m != nil {
		m.RequestLatency.WithLabelValues(route, status).Observe(d.Seconds())
	}
}
