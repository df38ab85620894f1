// Package metrics defines the Prometheus collectors for a payer session.
//
// Collectors are registered on a caller-provided registry so several sessions
// (tests, multiple controllers) never collide on the default registry. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nitropay"

// Metrics groups the session collectors.
type Metrics struct {
	Transitions        *prometheus.CounterVec
	RPCRequests        *prometheus.CounterVec
	RPCDuration        *prometheus.HistogramVec
	Anomalies          *prometheus.CounterVec
	Payments           *prometheus.CounterVec
	ConflictsRecovered prometheus.Counter
	PendingRequests    prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions by target state",
		}, []string{"to"}),
		RPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "RPC requests by method and outcome",
		}, []string{"method", "outcome"}),
		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "Round-trip time of answered RPC requests",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"method"}),
		Anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_anomalies_total",
			Help:      "Inbound frames that were dropped or could not be routed",
		}, []string{"reason"}),
		Payments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Payment intents by outcome",
		}, []string{"outcome"}),
		ConflictsRecovered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_conflicts_recovered_total",
			Help:      "Channel-create conflicts resolved by adopting the existing channel",
		}),
		PendingRequests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "RPC requests awaiting a response",
		}),
	}
}

// Transition counts a move into state to.
func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to).Inc()
}

// Request records an RPC outcome and, for answered requests, its latency.
func (m *Metrics) Request(method, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.RPCRequests.WithLabelValues(method, outcome).Inc()
	if outcome == OutcomeOK || outcome == OutcomeError {
		m.RPCDuration.WithLabelValues(method).Observe(took.Seconds())
	}
}

// Anomaly counts a dropped inbound frame.
func (m *Metrics) Anomaly(reason string) {
	if m == nil {
		return
	}
	m.Anomalies.WithLabelValues(reason).Inc()
}

// Payment counts a payment outcome.
func (m *Metrics) Payment(outcome string) {
	if m == nil {
		return
	}
	m.Payments.WithLabelValues(outcome).Inc()
}

// ConflictRecovered counts an adopted channel.
func (m *Metrics) ConflictRecovered() {
	if m == nil {
		return
	}
	m.ConflictsRecovered.Inc()
}

// SetPending sets the pending request gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(n))
}

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeSendError = "send_error"
	OutcomeRejected  = "rejected"
)

// Anomaly reasons.
const (
	ReasonUnmatched   = "unmatched"
	ReasonMalformed   = "malformed"
	ReasonUnknownKind = "unknown_kind"
)
