package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-approval-routing/internal/clock"
	"github.com/pesio-ai/be-approval-routing/internal/errors"
	"github.com/pesio-ai/be-approval-routing/internal/logger"
	"github.com/pesio-ai/be-approval-routing/internal/repository"
	"github.com/pesio-ai/be-approval-routing/internal/repository/memory"
)

const (
	approved = repository.DecisionApproved
	rejected = repository.DecisionRejected
)

func purchaseRule() *repository.ApprovalRule {
	return &repository.ApprovalRule{
		ID:         "R1",
		Name:       "Purchases over 1000",
		Conditions: []repository.ApprovalCondition{cond("amount", repository.OpGt, 1000)},
		Steps: []repository.ApprovalStep{
			step(1, repository.StepTypeSequential, 1, "role:manager"),
			step(2, repository.StepTypeParallel, 2, "role:finance", "role:cfo"),
		},
	}
}

func singleStepRule(id string, typ repository.StepType, required int, approvers ...string) *repository.ApprovalRule {
	return &repository.ApprovalRule{
		ID:    id,
		Name:  id,
		Steps: []repository.ApprovalStep{step(1, typ, required, approvers...)},
	}
}

func escalatingRule() *repository.ApprovalRule {
	s1 := step(1, repository.StepTypeParallel, 1, "role:manager")
	s1.TimeoutHours = 1
	return &repository.ApprovalRule{
		ID:    "timed",
		Name:  "Timed",
		Steps: []repository.ApprovalStep{s1, step(2, repository.StepTypeParallel, 1, "role:cfo")},
		Escalation: &repository.EscalationRule{
			TimeoutHours:         1,
			EscalateTo:           []string{"role:director"},
			NotificationTemplate: "approval-overdue",
		},
	}
}

func TestEndToEndPurchaseApproval(t *testing.T) {
	h := newHarness(t)
	h.register(t, purchaseRule())
	ctx := context.Background()

	id := h.start(t, Subject{"amount": 5000})
	wf := h.workflow(t, id)
	assert.Equal(t, "R1", wf.RuleID)
	assert.Equal(t, 1, wf.CurrentStep)
	assert.Equal(t, repository.StatusInProgress, wf.Status)

	res, err := h.decide(id, "mia", approved)
	require.NoError(t, err)
	assert.True(t, res.StepCompleted)
	assert.Equal(t, 2, res.CurrentStep)
	assert.Equal(t, repository.StatusInProgress, res.Status)

	res, err = h.decide(id, "fin", approved)
	require.NoError(t, err)
	assert.False(t, res.StepCompleted)
	assert.Equal(t, 2, res.CurrentStep)
	assert.Equal(t, repository.StatusInProgress, res.Status)

	res, err = h.decide(id, "cora", approved)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, res.Status)
	assert.Equal(t, 2, res.CurrentStep, "current step stays on the last step")

	wf = h.workflow(t, id)
	assert.Equal(t, repository.StatusApproved, wf.Status)
	require.NotNil(t, wf.CompletedAt)

	approvals, err := h.ledger.Approvals(ctx, id)
	require.NoError(t, err)
	require.Len(t, approvals, 3)
	assert.Equal(t, []int{1, 2, 2}, []int{approvals[0].StepNumber, approvals[1].StepNumber, approvals[2].StepNumber})

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WorkflowsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WorkflowsCompleted.WithLabelValues(string(repository.StatusApproved))))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RuleMatches.WithLabelValues("R1")))
}

func TestStartWorkflowErrors(t *testing.T) {
	h := newHarness(t)
	h.register(t, purchaseRule())
	ctx := context.Background()

	_, err := h.svc.StartApprovalWorkflow(ctx, "po-1", Subject{"amount": 10})
	assert.ErrorIs(t, err, ErrNoApplicableRule)
	assert.True(t, errors.IsNotFound(err))

	_, err = h.svc.StartApprovalWorkflow(ctx, "", Subject{"amount": 5000})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	inProgress, err := h.workflows.ListInProgress(ctx)
	require.NoError(t, err)
	assert.Empty(t, inProgress, "no workflow is created when start fails")
}

func TestTerminalWorkflowRejectsDecisions(t *testing.T) {
	for _, final := range []repository.Decision{approved, rejected} {
		t.Run(string(final), func(t *testing.T) {
			h := newHarness(t)
			h.register(t, singleStepRule("one", repository.StepTypeParallel, 1, "user:alice", "user:bob"))
			id := h.start(t, Subject{})

			_, err := h.decide(id, "alice", final)
			require.NoError(t, err)
			before := h.workflow(t, id)

			_, err = h.decide(id, "bob", approved)
			assert.ErrorIs(t, err, ErrWorkflowAlreadyCompleted)
			assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))

			after := h.workflow(t, id)
			assert.Equal(t, before, after)
			approvals, err := h.ledger.Approvals(context.Background(), id)
			require.NoError(t, err)
			assert.Len(t, approvals, 1)
		})
	}
}

func TestThresholdRequiresExactlyN(t *testing.T) {
	h := newHarness(t)
	h.register(t, &repository.ApprovalRule{
		ID:   "board",
		Name: "Board",
		Steps: []repository.ApprovalStep{
			step(1, repository.StepTypeParallel, 3, "role:board"),
			step(2, repository.StepTypeParallel, 1, "user:zed"),
		},
	})
	id := h.start(t, Subject{})

	for _, who := range []string{"b1", "b2"} {
		res, err := h.decide(id, who, approved)
		require.NoError(t, err)
		assert.False(t, res.StepCompleted)
		assert.Equal(t, 1, res.CurrentStep)
	}
	assert.Equal(t, repository.StatusInProgress, h.workflow(t, id).Status)

	res, err := h.decide(id, "b3", approved)
	require.NoError(t, err)
	assert.True(t, res.StepCompleted)
	assert.Equal(t, 2, h.workflow(t, id).CurrentStep)
}

func TestRejectionShortCircuits(t *testing.T) {
	h := newHarness(t)
	h.register(t, purchaseRule())
	id := h.start(t, Subject{"amount": 2000})

	_, err := h.decide(id, "mia", approved)
	require.NoError(t, err)
	_, err = h.decide(id, "fin", approved)
	require.NoError(t, err)

	res, err := h.decide(id, "cora", rejected)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusRejected, res.Status)
	assert.False(t, res.StepCompleted)

	wf := h.workflow(t, id)
	assert.Equal(t, repository.StatusRejected, wf.Status)
	assert.Equal(t, 2, wf.CurrentStep)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WorkflowsCompleted.WithLabelValues(string(repository.StatusRejected))))
}

func TestAnyOneCompletesOnFirstApproval(t *testing.T) {
	h := newHarness(t)
	h.register(t, singleStepRule("any", repository.StepTypeAnyOne, 3, "role:board"))
	id := h.start(t, Subject{})

	res, err := h.decide(id, "b2", approved)
	require.NoError(t, err)
	assert.True(t, res.StepCompleted)
	assert.Equal(t, repository.StatusApproved, res.Status)
}

func TestSequentialStepNotifiesInTurn(t *testing.T) {
	// A single worker keeps delivery in enqueue order.
	h := newHarness(t, WithDispatcher(16, 1))
	h.register(t, singleStepRule("seq", repository.StepTypeSequential, 3, "role:board"))
	ctx := context.Background()
	id := h.start(t, Subject{})

	pending, err := h.svc.ListPendingForApprover(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, repository.StepTypeSequential, pending[0].StepType)

	pending, err = h.svc.ListPendingForApprover(ctx, "b2")
	require.NoError(t, err)
	assert.Empty(t, pending, "b2 waits for b1")

	_, err = h.decide(id, "b1", approved)
	require.NoError(t, err)

	pending, err = h.svc.ListPendingForApprover(ctx, "b2")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	pending, err = h.svc.ListPendingForApprover(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	h.drain()
	assert.Equal(t, [][]string{{"b1"}, {"b2"}}, h.notifier.activationRecipients())
}

func TestParallelStepNotifiesEveryone(t *testing.T) {
	h := newHarness(t)
	h.register(t, singleStepRule("par", repository.StepTypeParallel, 2, "role:board", "user:b1"))
	id := h.start(t, Subject{})

	_, err := h.decide(id, "b3", approved)
	require.NoError(t, err)

	for _, who := range []string{"b1", "b2"} {
		pending, err := h.svc.ListPendingForApprover(context.Background(), who)
		require.NoError(t, err)
		assert.Len(t, pending, 1, who)
	}

	h.drain()
	assert.Equal(t, [][]string{{"b1", "b2", "b3"}}, h.notifier.activationRecipients())
}

func TestSubmitApprovalValidation(t *testing.T) {
	h := newHarness(t)
	h.register(t, purchaseRule())
	id := h.start(t, Subject{"amount": 5000})

	_, err := h.decide("missing", "mia", approved)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.True(t, errors.IsNotFound(err))

	_, err = h.decide(id, "", approved)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	_, err = h.decide(id, "mia", repository.Decision("MAYBE"))
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	_, err = h.svc.SubmitApproval(context.Background(), SubmitApprovalRequest{
		WorkflowID: id, ApproverID: "mia", Decision: approved, StepNumber: 2,
	})
	assert.ErrorIs(t, err, ErrInvalidStepSubmission)

	_, err = h.svc.SubmitApproval(context.Background(), SubmitApprovalRequest{
		WorkflowID: id, ApproverID: "mia", Decision: approved, StepNumber: 1,
	})
	require.NoError(t, err)
}

func TestDuplicateDecisionRejected(t *testing.T) {
	h := newHarness(t)
	h.register(t, singleStepRule("dup", repository.StepTypeParallel, 2, "role:board"))
	id := h.start(t, Subject{})

	_, err := h.decide(id, "b1", approved)
	require.NoError(t, err)
	_, err = h.decide(id, "b1", approved)
	assert.ErrorIs(t, err, ErrDuplicateDecision)
	_, err = h.decide(id, "b1", rejected)
	assert.ErrorIs(t, err, ErrDuplicateDecision)

	assert.Equal(t, repository.StatusInProgress, h.workflow(t, id).Status)
}

func TestAssignmentEnforcement(t *testing.T) {
	h := newHarness(t, WithAssignmentEnforcement(true))
	h.register(t,
		&repository.ApprovalRule{
			ID:         "assigned",
			Name:       "assigned",
			Conditions: []repository.ApprovalCondition{cond("kind", repository.OpEq, "assigned")},
			Steps:      []repository.ApprovalStep{step(1, repository.StepTypeParallel, 1, "role:manager")},
		},
		&repository.ApprovalRule{
			ID:    "unresolved",
			Name:  "unresolved",
			Steps: []repository.ApprovalStep{step(1, repository.StepTypeParallel, 1, "role:ghosts")},
		},
	)

	id := h.start(t, Subject{"kind": "assigned"})
	_, err := h.decide(id, "mallory", approved)
	assert.ErrorIs(t, err, ErrApproverNotAssigned)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))
	_, err = h.decide(id, "mia", approved)
	require.NoError(t, err)

	// Nobody resolved, so the step stays open to any approver.
	id = h.start(t, Subject{"kind": "other"})
	state, err := h.svc.GetWorkflowState(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, state.ActiveStep)
	assert.Empty(t, state.ActiveStep.Approvers)
	_, err = h.decide(id, "anyone", approved)
	require.NoError(t, err)
}

func TestConcurrentApprovalsAdvanceOnce(t *testing.T) {
	const required = 5
	const extra = 3

	approvers := make([]string, 0, required+extra)
	for i := 0; i < required+extra; i++ {
		approvers = append(approvers, fmt.Sprintf("user:u%d", i))
	}

	h := newHarness(t)
	h.register(t, &repository.ApprovalRule{
		ID:   "race",
		Name: "race",
		Steps: []repository.ApprovalStep{
			step(1, repository.StepTypeParallel, required, approvers...),
			step(2, repository.StepTypeParallel, 1, "user:closer"),
		},
	})
	id := h.start(t, Subject{})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		completed int
		stale     int
		other     []error
	)
	gate := make(chan struct{})
	for i := 0; i < required+extra; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			res, err := h.svc.SubmitApproval(context.Background(), SubmitApprovalRequest{
				WorkflowID: id,
				ApproverID: fmt.Sprintf("u%d", i),
				Decision:   approved,
				StepNumber: 1,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
				if res.StepCompleted {
					completed++
				}
			case errors.Is(err, ErrInvalidStepSubmission):
				stale++
			default:
				other = append(other, err)
			}
		}()
	}
	close(gate)
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, required, ok)
	assert.Equal(t, 1, completed, "exactly one submission advances the step")
	assert.Equal(t, extra, stale)

	wf := h.workflow(t, id)
	assert.Equal(t, 2, wf.CurrentStep)
	assert.Equal(t, repository.StatusInProgress, wf.Status)

	atStep, err := h.ledger.ApprovalsAtStep(context.Background(), id, 1)
	require.NoError(t, err)
	assert.Len(t, atStep, required)
}

func TestConcurrentWorkflowsAreIndependent(t *testing.T) {
	h := newHarness(t)
	h.register(t, singleStepRule("solo", repository.StepTypeParallel, 1, "user:alice"))

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = h.start(t, Subject{})
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.decide(id, "alice", approved)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, repository.StatusApproved, h.workflow(t, id).Status)
	}
	assert.Equal(t, 0, h.svc.locks.size())
}

func TestEscalationFiresOnce(t *testing.T) {
	h := newHarness(t)
	h.register(t, escalatingRule())
	ctx := context.Background()
	id := h.start(t, Subject{})

	h.clock.Advance(59 * time.Minute)
	escalations, err := h.ledger.Escalations(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, escalations)

	h.clock.Advance(time.Minute)
	h.clock.Advance(10 * time.Hour)

	escalations, err = h.ledger.Escalations(ctx, id)
	require.NoError(t, err)
	require.Len(t, escalations, 1)
	assert.Equal(t, 1, escalations[0].StepNumber)
	assert.Equal(t, []string{"dana"}, escalations[0].EscalatedTo)
	assert.Equal(t, epoch.Add(time.Hour), escalations[0].EscalatedAt)

	wf := h.workflow(t, id)
	assert.Equal(t, repository.StatusInProgress, wf.Status, "escalation never changes status")
	assert.Equal(t, 1, wf.CurrentStep)

	state, err := h.svc.GetWorkflowState(ctx, id)
	require.NoError(t, err)
	assert.True(t, state.Escalated)
	require.NotNil(t, state.ActiveStep.DueAt)
	assert.Equal(t, epoch.Add(time.Hour), *state.ActiveStep.DueAt)

	// The step can still be decided after escalating.
	res, err := h.decide(id, "mia", approved)
	require.NoError(t, err)
	assert.Equal(t, 2, res.CurrentStep)

	h.drain()
	sent := h.notifier.escalationsSent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"dana"}, sent[0].recipients)
	assert.Equal(t, "approval-overdue", sent[0].template)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EscalationsFired))
}

func TestNoEscalationAfterStepCompletes(t *testing.T) {
	h := newHarness(t)
	h.register(t, escalatingRule())
	id := h.start(t, Subject{})

	h.clock.Advance(30 * time.Minute)
	_, err := h.decide(id, "mia", approved)
	require.NoError(t, err)
	assert.Equal(t, 0, h.clock.Pending(), "step 1 timer disarmed and step 2 has no timeout")

	h.clock.Advance(48 * time.Hour)
	escalations, err := h.ledger.Escalations(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, escalations)
}

func TestNoEscalationAfterRejection(t *testing.T) {
	h := newHarness(t)
	h.register(t, escalatingRule())
	id := h.start(t, Subject{})

	_, err := h.decide(id, "mia", rejected)
	require.NoError(t, err)
	assert.Equal(t, 0, h.clock.Pending())

	h.clock.Advance(2 * time.Hour)
	escalations, err := h.ledger.Escalations(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, escalations)
}

func TestTimeoutWithoutEscalationRuleArmsNothing(t *testing.T) {
	h := newHarness(t)
	r := escalatingRule()
	r.Escalation = nil
	h.register(t, r)
	id := h.start(t, Subject{})

	assert.Equal(t, 0, h.clock.Pending())
	state, err := h.svc.GetWorkflowState(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, state.ActiveStep.DueAt)
}

func TestStaleEscalationIgnored(t *testing.T) {
	h := newHarness(t)
	h.register(t, escalatingRule())
	id := h.start(t, Subject{})

	_, err := h.decide(id, "mia", approved)
	require.NoError(t, err)

	// A timer for step 1 that slipped past cancellation.
	h.svc.handleEscalation(id, 1)

	escalations, err := h.ledger.Escalations(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, escalations)
}

func TestResumeEscalations(t *testing.T) {
	h := newHarness(t)
	h.register(t, escalatingRule())
	ctx := context.Background()

	id := h.start(t, Subject{})
	h.svc.Close()

	restarted := clock.NewManual(epoch.Add(30 * time.Minute))
	svc := NewApprovalRoutingService(h.rules, h.workflows, h.ledger, h.steps,
		&fakeIdentity{members: directory}, h.notifier, logger.Nop(), WithClock(restarted))
	t.Cleanup(svc.Close)

	armed, err := svc.ResumeEscalations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, armed)

	restarted.Advance(29 * time.Minute)
	escalations, err := h.ledger.Escalations(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, escalations)

	restarted.Advance(time.Minute)
	escalations, err = h.ledger.Escalations(ctx, id)
	require.NoError(t, err)
	assert.Len(t, escalations, 1)

	armed, err = svc.ResumeEscalations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, armed, "an escalated step is not re-armed")
}

func TestResumeEscalationsOverdueFiresImmediately(t *testing.T) {
	h := newHarness(t)
	h.register(t, escalatingRule())
	ctx := context.Background()

	id := h.start(t, Subject{})
	h.svc.Close()

	restarted := clock.NewManual(epoch.Add(6 * time.Hour))
	svc := NewApprovalRoutingService(h.rules, h.workflows, h.ledger, h.steps,
		&fakeIdentity{members: directory}, h.notifier, logger.Nop(), WithClock(restarted))
	t.Cleanup(svc.Close)

	armed, err := svc.ResumeEscalations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, armed)

	restarted.Advance(0)
	escalations, err := h.ledger.Escalations(ctx, id)
	require.NoError(t, err)
	require.Len(t, escalations, 1)
	assert.Equal(t, epoch.Add(6*time.Hour), escalations[0].EscalatedAt)
}

func TestGetWorkflowState(t *testing.T) {
	h := newHarness(t)
	h.register(t, purchaseRule())
	ctx := context.Background()
	id := h.start(t, Subject{"amount": 5000})

	_, err := h.decide(id, "mia", approved)
	require.NoError(t, err)

	state, err := h.svc.GetWorkflowState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Workflow.CurrentStep)
	assert.Len(t, state.Approvals, 1)
	assert.Empty(t, state.Escalations)
	assert.False(t, state.Escalated)
	require.NotNil(t, state.ActiveStep)
	assert.Equal(t, 2, state.ActiveStep.StepNumber)
	assert.Equal(t, []string{"fin", "cora"}, state.ActiveStep.Approvers)

	_, err = h.svc.GetWorkflowState(ctx, "nope")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestListPendingForApproverRequiresID(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.ListPendingForApprover(context.Background(), "")
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}

func TestRuleManagement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.svc.RegisterRule(ctx, &repository.ApprovalRule{ID: "bad", Name: "bad"})
	assert.ErrorIs(t, err, ErrInvalidRule)

	original := purchaseRule()
	original.Steps[1].Type = ""
	require.NoError(t, h.svc.RegisterRule(ctx, original))
	assert.Equal(t, repository.StepType(""), original.Steps[1].Type, "caller's rule is not mutated")

	rules, err := h.svc.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, repository.StepTypeParallel, rules[0].Steps[1].Type)

	require.NoError(t, h.svc.ReplaceRules(ctx, []*repository.ApprovalRule{
		singleStepRule("a", repository.StepTypeParallel, 1, "user:x"),
		singleStepRule("b", repository.StepTypeParallel, 1, "user:y"),
	}))
	id := h.start(t, Subject{"amount": 5000})
	assert.Equal(t, "a", h.workflow(t, id).RuleID)

	err = h.svc.ReplaceRules(ctx, []*repository.ApprovalRule{
		singleStepRule("a", repository.StepTypeParallel, 1, "user:x"),
		singleStepRule("a", repository.StepTypeParallel, 1, "user:y"),
	})
	assert.ErrorIs(t, err, ErrInvalidRule)
	rules, err = h.svc.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 2, "failed replace keeps the previous rule set")
}

func TestNotifierFailureDoesNotAffectState(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = fmt.Errorf("mail relay down")
	h.register(t, singleStepRule("solo", repository.StepTypeParallel, 1, "user:alice"))

	id := h.start(t, Subject{})
	res, err := h.decide(id, "alice", approved)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, res.Status)

	h.drain()
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.NotificationsFailed.WithLabelValues(string(notifyStepActivation))))
}

func TestSequentialStepEnforcesTurnOrder(t *testing.T) {
	for _, enforce := range []bool{false, true} {
		t.Run(fmt.Sprintf("enforce=%v", enforce), func(t *testing.T) {
			h := newHarness(t, WithDispatcher(16, 1), WithAssignmentEnforcement(enforce))
			h.register(t, singleStepRule("seq", repository.StepTypeSequential, 3, "role:board"))
			id := h.start(t, Subject{})

			_, err := h.decide(id, "b3", approved)
			assert.ErrorIs(t, err, ErrNotApproverTurn)
			assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
			_, err = h.decide(id, "b2", rejected)
			assert.ErrorIs(t, err, ErrNotApproverTurn)

			_, err = h.decide(id, "b1", approved)
			require.NoError(t, err)
			_, err = h.decide(id, "b3", approved)
			assert.ErrorIs(t, err, ErrNotApproverTurn)
			_, err = h.decide(id, "b2", approved)
			require.NoError(t, err)

			res, err := h.decide(id, "b3", approved)
			require.NoError(t, err)
			assert.Equal(t, repository.StatusApproved, res.Status)

			atStep, err := h.ledger.ApprovalsAtStep(context.Background(), id, 1)
			require.NoError(t, err)
			assert.Len(t, atStep, 3)

			h.drain()
			assert.Equal(t, [][]string{{"b1"}, {"b2"}, {"b3"}}, h.notifier.activationRecipients())
		})
	}
}

func TestRejectionShortCircuitsEveryStepType(t *testing.T) {
	tests := []struct {
		name     string
		typ      repository.StepType
		rejecter string
	}{
		{"sequential", repository.StepTypeSequential, "b1"},
		{"any one", repository.StepTypeAnyOne, "b2"},
		{"parallel", repository.StepTypeParallel, "b3"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.register(t, &repository.ApprovalRule{
				ID:   "board",
				Name: "Board",
				Steps: []repository.ApprovalStep{
					step(1, tc.typ, 3, "role:board"),
					step(2, repository.StepTypeParallel, 1, "user:zed"),
				},
			})
			id := h.start(t, Subject{})

			res, err := h.decide(id, tc.rejecter, rejected)
			require.NoError(t, err)
			assert.Equal(t, repository.StatusRejected, res.Status)
			assert.False(t, res.StepCompleted)

			wf := h.workflow(t, id)
			assert.Equal(t, repository.StatusRejected, wf.Status)
			assert.Equal(t, 1, wf.CurrentStep)
			require.NotNil(t, wf.CompletedAt)

			_, err = h.decide(id, "zed", approved)
			assert.ErrorIs(t, err, ErrWorkflowAlreadyCompleted)
		})
	}
}

func TestRemovedRuleAllowsOnlyRejection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, singleStepRule("old", repository.StepTypeParallel, 2, "role:board"))
	id := h.start(t, Subject{})

	require.NoError(t, h.svc.ReplaceRules(ctx, []*repository.ApprovalRule{
		singleStepRule("new", repository.StepTypeParallel, 1, "user:zed"),
	}))

	_, err := h.decide(id, "b1", approved)
	assert.ErrorIs(t, err, ErrRuleNotRegistered)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, repository.StatusInProgress, h.workflow(t, id).Status)

	res, err := h.decide(id, "b2", rejected)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusRejected, res.Status)
	assert.Equal(t, repository.StatusRejected, h.workflow(t, id).Status)
}

// flakyActivations fails the first n Record calls.
type flakyActivations struct {
	*memory.StepActivationStore
	mu       sync.Mutex
	failures int
}

func (f *flakyActivations) Record(ctx context.Context, a *repository.StepActivation) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New(errors.ErrCodeInternal, "connection reset")
	}
	f.mu.Unlock()
	return f.StepActivationStore.Record(ctx, a)
}

func TestFailedActivationRecoveredOnResume(t *testing.T) {
	h := newHarness(t)
	h.register(t, escalatingRule())
	ctx := context.Background()

	clk := clock.NewManual(epoch)
	svc := NewApprovalRoutingService(h.rules, h.workflows, h.ledger,
		&flakyActivations{StepActivationStore: h.steps, failures: 1},
		&fakeIdentity{members: directory}, h.notifier, logger.Nop(), WithClock(clk))
	t.Cleanup(svc.Close)

	id, err := svc.StartApprovalWorkflow(ctx, "subject-1", Subject{})
	require.Error(t, err)
	require.NotEmpty(t, id, "the stored workflow's id is still returned")
	assert.Equal(t, repository.StatusInProgress, h.workflow(t, id).Status)
	_, err = h.steps.Get(ctx, id, 1)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, 0, clk.Pending())

	armed, err := svc.ResumeEscalations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, armed)

	active, err := h.steps.Get(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"mia"}, active.Approvers)
	assert.Equal(t, epoch, active.ActivatedAt)

	clk.Advance(time.Hour)
	escalations, err := h.ledger.Escalations(ctx, id)
	require.NoError(t, err)
	assert.Len(t, escalations, 1)

	armed, err = svc.ResumeEscalations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, armed)
}
