package service

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-approval-routing/internal/clock"
	"github.com/pesio-ai/be-approval-routing/internal/errors"
	"github.com/pesio-ai/be-approval-routing/internal/logger"
	"github.com/pesio-ai/be-approval-routing/internal/metrics"
	"github.com/pesio-ai/be-approval-routing/internal/repository"
	"github.com/pesio-ai/be-approval-routing/internal/repository/memory"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// fakeIdentity maps specs to ids; "user:<id>" resolves to itself.
type fakeIdentity struct {
	members map[string][]string
}

func (f *fakeIdentity) ResolveApprovers(_ context.Context, spec string) ([]string, error) {
	if ids, ok := f.members[spec]; ok {
		return slices.Clone(ids), nil
	}
	if id, ok := strings.CutPrefix(spec, "user:"); ok {
		return []string{id}, nil
	}
	return nil, errors.NotFound("approver spec", spec)
}

type sentNotification struct {
	workflowID string
	recipients []string
	template   string
}

type recordingNotifier struct {
	mu          sync.Mutex
	activations []sentNotification
	escalations []sentNotification
	err         error
}

func (n *recordingNotifier) NotifyStepActivation(_ context.Context, workflowID string, ids []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.activations = append(n.activations, sentNotification{workflowID: workflowID, recipients: ids})
	return n.err
}

func (n *recordingNotifier) NotifyEscalation(_ context.Context, workflowID string, ids []string, template string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.escalations = append(n.escalations, sentNotification{workflowID: workflowID, recipients: ids, template: template})
	return n.err
}

func (n *recordingNotifier) activationRecipients() [][]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][]string, 0, len(n.activations))
	for _, a := range n.activations {
		out = append(out, a.recipients)
	}
	return out
}

func (n *recordingNotifier) escalationsSent() []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.escalations)
}

type harness struct {
	svc       *ApprovalRoutingService
	clock     *clock.Manual
	notifier  *recordingNotifier
	metrics   *metrics.Metrics
	rules     *memory.RuleRegistry
	workflows *memory.WorkflowStore
	ledger    *memory.Ledger
	steps     *memory.StepActivationStore
}

var directory = map[string][]string{
	"role:manager":  {"mia"},
	"role:finance":  {"fin"},
	"role:cfo":      {"cora"},
	"role:director": {"dana"},
	"role:board":    {"b1", "b2", "b3"},
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:     clock.NewManual(epoch),
		notifier:  &recordingNotifier{},
		metrics:   metrics.New(prometheus.NewRegistry()),
		rules:     memory.NewRuleRegistry(),
		workflows: memory.NewWorkflowStore(),
		ledger:    memory.NewLedger(),
		steps:     memory.NewStepActivationStore(),
	}
	opts = append([]Option{WithClock(h.clock), WithMetrics(h.metrics)}, opts...)
	h.svc = NewApprovalRoutingService(h.rules, h.workflows, h.ledger, h.steps,
		&fakeIdentity{members: directory}, h.notifier, logger.Nop(), opts...)
	t.Cleanup(h.svc.Close)
	return h
}

// drain waits for queued notifications to be delivered.
func (h *harness) drain() {
	h.svc.Close()
}

func (h *harness) register(t *testing.T, rules ...*repository.ApprovalRule) {
	t.Helper()
	for _, r := range rules {
		require.NoError(t, h.svc.RegisterRule(context.Background(), r))
	}
}

func (h *harness) start(t *testing.T, subject Subject) string {
	t.Helper()
	id, err := h.svc.StartApprovalWorkflow(context.Background(), "subject-1", subject)
	require.NoError(t, err)
	return id
}

func (h *harness) decide(workflowID, approver string, d repository.Decision) (*SubmitApprovalResult, error) {
	return h.svc.SubmitApproval(context.Background(), SubmitApprovalRequest{
		WorkflowID: workflowID,
		ApproverID: approver,
		Decision:   d,
	})
}

func (h *harness) workflow(t *testing.T, id string) *repository.WorkflowInstance {
	t.Helper()
	wf, err := h.workflows.Get(context.Background(), id)
	require.NoError(t, err)
	return wf
}

func step(n int, typ repository.StepType, required int, approvers ...string) repository.ApprovalStep {
	return repository.ApprovalStep{StepNumber: n, Type: typ, Approvers: approvers, RequiredApprovals: required}
}

func cond(field string, op repository.Operator, value interface{}) repository.ApprovalCondition {
	return repository.ApprovalCondition{Field: field, Operator: op, Value: value}
}
