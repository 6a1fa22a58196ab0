package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the approval routing collectors.
type Metrics struct {
	WorkflowsStarted     prometheus.Counter
	WorkflowsCompleted   *prometheus.CounterVec
	Decisions            *prometheus.CounterVec
	EscalationsFired     prometheus.Counter
	RuleMatches          *prometheus.CounterVec
	NotificationsSent    *prometheus.CounterVec
	NotificationsFailed  *prometheus.CounterVec
	NotificationsDropped *prometheus.CounterVec
	StepDuration         prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkflowsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "approval_workflows_started_total",
			Help: "Total number of approval workflows started",
		}),

		WorkflowsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approval_workflows_completed_total",
			Help: "Total number of approval workflows that reached a terminal status",
		}, []string{"status"}),

		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approval_decisions_total",
			Help: "Total number of approval decisions recorded",
		}, []string{"decision"}),

		EscalationsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "approval_escalations_fired_total",
			Help: "Total number of step escalations recorded",
		}),

		RuleMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approval_rule_matches_total",
			Help: "Total number of subjects matched per rule",
		}, []string{"rule_id"}),

		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approval_notifications_sent_total",
			Help: "Total number of notifications delivered to the notifier",
		}, []string{"kind"}),

		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approval_notifications_failed_total",
			Help: "Total number of notifications the notifier rejected",
		}, []string{"kind"}),

		NotificationsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approval_notifications_dropped_total",
			Help: "Total number of notifications dropped because the dispatch queue was full",
		}, []string{"kind"}),

		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "approval_step_duration_seconds",
			Help:    "Time from step activation to step completion",
			Buckets: prometheus.ExponentialBuckets(1, 4, 12),
		}),
	}

	reg.MustRegister(
		m.WorkflowsStarted,
		m.WorkflowsCompleted,
		m.Decisions,
		m.EscalationsFired,
		m.RuleMatches,
		m.NotificationsSent,
		m.NotificationsFailed,
		m.NotificationsDropped,
		m.StepDuration,
	)
	return m
}

// ObserveStep records how long a step stayed open.
func (m *Metrics) ObserveStep(activatedAt, completedAt time.Time) {
	if activatedAt.IsZero() || completedAt.Before(activatedAt) {
		return
	}
	m.StepDuration.Observe(completedAt.Sub(activatedAt).Seconds())
}
