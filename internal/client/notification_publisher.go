package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Event types published by the approval router.
const (
	EventApprovalRequired = "approval_required"
	EventStepEscalated    = "approval_escalated"
)

// Publisher is the subset of *nats.Conn the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NotificationPublisher publishes approval workflow events to NATS for
// consumption by the notifications service.
//
// Subject convention: <prefix>.<event_type>, e.g. notifications.approvals.approval_required
//
// Publishing goes through a circuit breaker so a dead broker fails fast
// instead of stalling the dispatch workers.
type NotificationPublisher struct {
	conn    Publisher
	prefix  string
	breaker *gobreaker.CircuitBreaker
	now     func() time.Time
	log     zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	Template     string                 `json:"template,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. The breaker opens after five consecutive failures and probes
// again after thirty seconds.
func NewNotificationPublisher(conn Publisher, subjectPrefix string, log zerolog.Logger) *NotificationPublisher {
	if subjectPrefix == "" {
		subjectPrefix = "notifications.approvals"
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "nats-notifications",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("notification: circuit breaker state changed")
		},
	})
	return &NotificationPublisher{
		conn:    conn,
		prefix:  subjectPrefix,
		breaker: breaker,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log,
	}
}

// NotifyStepActivation tells approvers a step needs their decision.
func (p *NotificationPublisher) NotifyStepActivation(ctx context.Context, workflowID string, approverIDs []string) error {
	return p.publish(ctx, &NotificationEvent{
		EventType:    EventApprovalRequired,
		Recipients:   approverIDs,
		ResourceType: "approval_workflow",
		ResourceID:   workflowID,
		IsActionable: true,
		Severity:     "info",
		Category:     "approval",
	})
}

// NotifyEscalation tells the escalation targets a step is overdue.
func (p *NotificationPublisher) NotifyEscalation(ctx context.Context, workflowID string, escalateTo []string, template string) error {
	return p.publish(ctx, &NotificationEvent{
		EventType:    EventStepEscalated,
		Recipients:   escalateTo,
		ResourceType: "approval_workflow",
		ResourceID:   workflowID,
		IsActionable: true,
		Template:     template,
		Severity:     "warning",
		Category:     "approval",
	})
}

func (p *NotificationPublisher) publish(ctx context.Context, event *NotificationEvent) error {
	if p.conn == nil || len(event.Recipients) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	event.OccurredAt = p.now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notification: marshal %s event: %w", event.EventType, err)
	}

	subject := p.prefix + "." + event.EventType
	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.conn.Publish(subject, data)
	})
	if err != nil {
		return fmt.Errorf("notification: publish %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("workflow_id", event.ResourceID).
		Int("recipients", len(event.Recipients)).
		Msg("notification: event published")
	return nil
}

// LogNotifier writes notifications to the log. It is used when no message
// bus is configured.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "log_notifier").Logger()}
}

func (n *LogNotifier) NotifyStepActivation(_ context.Context, workflowID string, approverIDs []string) error {
	n.log.Info().Str("workflow_id", workflowID).Strs("recipients", approverIDs).Msg("Approval required")
	return nil
}

func (n *LogNotifier) NotifyEscalation(_ context.Context, workflowID string, escalateTo []string, template string) error {
	n.log.Info().Str("workflow_id", workflowID).Strs("recipients", escalateTo).Str("template", template).
		Msg("Approval step escalated")
	return nil
}
