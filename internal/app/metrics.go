package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/solarpay/compliance-service/internal/domain"
)

// Metrics holds the Prometheus collectors of the service. A nil *Metrics is valid and records nothing.
type Metrics struct {
	transitions   *prometheus.CounterVec
	reminders     *prometheus.CounterVec
	events        *prometheus.CounterVec
	phaseFailures *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_status_transitions_total",
			Help: "Payment status transitions applied.",
		}, []string{"from", "to"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_reminders_total",
			Help: "Reminder dispatch outcomes by reminder type.",
		}, []string{"type", "outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_events_total",
			Help: "Payment event publication outcomes.",
		}, []string{"type", "outcome"}),
		phaseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_lifecycle_phase_failures_total",
			Help: "Lifecycle phases that aborted a daily cycle.",
		}, []string{"phase"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payment_job_duration_seconds",
			Help:    "Duration of scheduled jobs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"job"}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.reminders, m.events, m.phaseFailures, m.jobDuration)
	}
	return m
}

func (m *Metrics) StatusTransition(from, to domain.PaymentStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) ReminderOutcome(t domain.ReminderType, outcome ReminderOutcome) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(string(t), string(outcome)).Inc()
}

func (m *Metrics) EventOutcome(t domain.PaymentEventType, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(t), outcome).Inc()
}

func (m *Metrics) PhaseFailed(phase string) {
	if m == nil {
		return
	}
	m.phaseFailures.WithLabelValues(phase).Inc()
}

func (m *Metrics) ObserveJob(job string, started time.Time) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}
