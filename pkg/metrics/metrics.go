// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebhookEventsTotal tracks inbound webhook events by outcome.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound webhook events by processing outcome",
		},
		[]string{"outcome"},
	)

	// DuplicateEventsTotal tracks events dropped by the idempotency ledger.
	DuplicateEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_duplicate_events_total",
			Help: "Webhook events dropped as already processed",
		},
	)

	// MessagesTotal tracks messages recorded by role and origin.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_recorded_total",
			Help: "Messages appended to the conversation log",
		},
		[]string{"role", "origin"},
	)

	// ModeTransitionsTotal tracks control-mode transitions.
	ModeTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "control_mode_transitions_total",
			Help: "Control-mode transitions applied to conversations",
		},
		[]string{"from", "to"},
	)

	// ProtectedOverridesTotal tracks protected-step overrides of human control.
	ProtectedOverridesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "protected_step_overrides_total",
			Help: "Automated turns granted by the protected-step override",
		},
	)

	// LockAcquisitionsTotal tracks conversation lock attempts.
	LockAcquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_lock_acquisitions_total",
			Help: "Conversation lock acquisition attempts",
		},
		[]string{"holder", "outcome"},
	)

	// LockWaitDuration tracks time spent waiting on a held lock.
	LockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conversation_lock_wait_seconds",
			Help:    "Time spent waiting for a held conversation lock",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 3, 5, 10},
		},
	)

	// OrchestratorDuration tracks bot orchestrator call duration.
	OrchestratorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_duration_seconds",
			Help:    "Bot orchestrator invocation duration",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordEvent records the outcome of one webhook event.
func RecordEvent(outcome string) {
	WebhookEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordModeTransition records a control-mode transition.
func RecordModeTransition(from, to string) {
	ModeTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordLockAttempt records a lock acquisition attempt.
func RecordLockAttempt(holder, outcome string) {
	LockAcquisitionsTotal.WithLabelValues(holder, outcome).Inc()
}
