package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pesio-ai/be-approval-routing/internal/clock"
	"github.com/pesio-ai/be-approval-routing/internal/errors"
	"github.com/pesio-ai/be-approval-routing/internal/idgen"
	"github.com/pesio-ai/be-approval-routing/internal/logger"
	"github.com/pesio-ai/be-approval-routing/internal/metrics"
	"github.com/pesio-ai/be-approval-routing/internal/repository"
)

const escalationHandlerTimeout = 30 * time.Second

// SubmitApprovalRequest carries one approver decision. StepNumber 0 means
// "the current step".
type SubmitApprovalRequest struct {
	WorkflowID string
	ApproverID string
	Decision   repository.Decision
	Comments   string
	StepNumber int
}

// SubmitApprovalResult describes the workflow after a decision.
type SubmitApprovalResult struct {
	WorkflowID    string                    `json:"workflow_id"`
	ApprovalID    string                    `json:"approval_id"`
	StepNumber    int                       `json:"step_number"`
	StepCompleted bool                      `json:"step_completed"`
	Status        repository.WorkflowStatus `json:"status"`
	CurrentStep   int                       `json:"current_step"`
}

// WorkflowState is a consistent snapshot of one workflow.
type WorkflowState struct {
	Workflow    *repository.WorkflowInstance     `json:"workflow"`
	Approvals   []*repository.WorkflowApproval   `json:"approvals"`
	Escalations []*repository.WorkflowEscalation `json:"escalations"`
	ActiveStep  *repository.StepActivation       `json:"active_step,omitempty"`
	Escalated   bool                             `json:"escalated"` // current step has been escalated
}

// PendingApproval is a step awaiting a decision from a specific approver.
type PendingApproval struct {
	WorkflowID  string              `json:"workflow_id"`
	SubjectID   string              `json:"subject_id"`
	RuleID      string              `json:"rule_id"`
	StepNumber  int                 `json:"step_number"`
	StepType    repository.StepType `json:"step_type"`
	ActivatedAt time.Time           `json:"activated_at"`
	DueAt       *time.Time          `json:"due_at,omitempty"`
}

// ApprovalRoutingService orchestrates approval workflows: rule selection,
// step progression, thresholds and escalation. Mutations of one workflow are
// serialized; distinct workflows proceed concurrently.
type ApprovalRoutingService struct {
	rulesRepo    repository.RuleRepository
	workflowRepo repository.WorkflowRepository
	ledger       repository.LedgerRepository
	stepsRepo    repository.StepActivationRepository

	matcher     *RuleMatcher
	steps       *StepProcessor
	escalations *EscalationScheduler
	dispatcher  *dispatcher
	locks       *keyedMutex

	clock             clock.Clock
	metrics           *metrics.Metrics
	tracer            trace.Tracer
	enforceAssignment bool
	log               *logger.Logger
}

// NewApprovalRoutingService creates a new ApprovalRoutingService and starts
// its notification workers. Call Close to stop them.
func NewApprovalRoutingService(
	rulesRepo repository.RuleRepository,
	workflowRepo repository.WorkflowRepository,
	ledger repository.LedgerRepository,
	stepsRepo repository.StepActivationRepository,
	identity IdentityResolver,
	notifier Notifier,
	log *logger.Logger,
	opts ...Option,
) *ApprovalRoutingService {
	o := buildOptions(opts)

	s := &ApprovalRoutingService{
		rulesRepo:         rulesRepo,
		workflowRepo:      workflowRepo,
		ledger:            ledger,
		stepsRepo:         stepsRepo,
		matcher:           NewRuleMatcher(rulesRepo),
		locks:             newKeyedMutex(),
		clock:             o.clock,
		metrics:           o.metrics,
		tracer:            o.tracerProvider.Tracer(tracerName),
		enforceAssignment: o.enforceAssignment,
		log:               log,
	}
	s.dispatcher = newDispatcher(notifier, o.dispatchBuffer, o.dispatchWorkers, o.notificationTimeout, o.metrics, log)
	s.escalations = NewEscalationScheduler(o.clock, s.handleEscalation)
	s.steps = newStepProcessor(identity, stepsRepo, s.escalations, s.dispatcher, o.clock, log)
	return s
}

// Close disarms every escalation timer and drains pending notifications.
func (s *ApprovalRoutingService) Close() {
	s.escalations.Close()
	s.dispatcher.close()
}

// ── Workflow creation ─────────────────────────────────────────────────────────

// StartApprovalWorkflow selects the first applicable rule for the subject,
// creates a workflow at step 1 and activates that step. If the workflow was
// stored but its first step could not be activated, the id is returned with
// the error; ResumeEscalations activates the step later.
func (s *ApprovalRoutingService) StartApprovalWorkflow(
	ctx context.Context,
	subjectID string,
	subject Subject,
) (workflowID string, err error) {
	ctx, span := s.tracer.Start(ctx, "ApprovalRoutingService.StartApprovalWorkflow",
		trace.WithAttributes(attribute.String("subject.id", subjectID)))
	defer func() { endSpan(span, err) }()

	if subjectID == "" {
		return "", errors.InvalidInput("subject_id", "subject id is required")
	}

	rule, err := s.matcher.FindApplicableRule(ctx, subject)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("rule.id", rule.ID))

	now := s.clock.Now()
	wf := &repository.WorkflowInstance{
		ID:              idgen.New(),
		SubjectID:       subjectID,
		RuleID:          rule.ID,
		CurrentStep:     rule.Steps[0].StepNumber,
		Status:          repository.StatusInProgress,
		StartedAt:       now,
		StepActivatedAt: now,
	}

	unlock := s.locks.Lock(wf.ID)
	defer unlock()

	if err := s.workflowRepo.Create(ctx, wf); err != nil {
		return "", err
	}
	if _, err := s.steps.ActivateStep(ctx, wf, rule, &rule.Steps[0]); err != nil {
		return wf.ID, errors.Wrap(err, errors.ErrCodeInternal, "workflow created but first step activation failed")
	}

	s.metrics.WorkflowsStarted.Inc()
	s.metrics.RuleMatches.WithLabelValues(rule.ID).Inc()

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("subject_id", subjectID).
		Str("rule_id", rule.ID).
		Int("total_steps", len(rule.Steps)).
		Msg("Approval workflow created")

	return wf.ID, nil
}

// ── Decisions ─────────────────────────────────────────────────────────────────

// SubmitApproval records a decision against the workflow's current step.
// REJECTED ends the workflow. APPROVED advances it once the step's effective
// required count of approvals is reached.
func (s *ApprovalRoutingService) SubmitApproval(
	ctx context.Context,
	req SubmitApprovalRequest,
) (result *SubmitApprovalResult, err error) {
	ctx, span := s.tracer.Start(ctx, "ApprovalRoutingService.SubmitApproval",
		trace.WithAttributes(
			attribute.String("workflow.id", req.WorkflowID),
			attribute.String("approver.id", req.ApproverID),
			attribute.String("decision", string(req.Decision)),
		))
	defer func() { endSpan(span, err) }()

	if req.WorkflowID == "" {
		return nil, errors.InvalidInput("workflow_id", "workflow id is required")
	}
	if req.ApproverID == "" {
		return nil, errors.InvalidInput("approver_id", "approver id is required")
	}
	if !req.Decision.Valid() {
		return nil, errors.InvalidInput("decision", "must be APPROVED or REJECTED")
	}

	unlock := s.locks.Lock(req.WorkflowID)
	defer unlock()

	wf, err := s.loadWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status.Terminal() {
		return nil, fmt.Errorf("%w: workflow %s is %s", ErrWorkflowAlreadyCompleted, wf.ID, wf.Status)
	}
	if req.StepNumber != 0 && req.StepNumber != wf.CurrentStep {
		return nil, fmt.Errorf("%w: submitted for step %d, current step is %d",
			ErrInvalidStepSubmission, req.StepNumber, wf.CurrentStep)
	}

	// A workflow whose rule was removed can still be rejected, never advanced.
	rule, step, err := s.loadStep(ctx, wf)
	if err != nil && !(errors.Is(err, ErrRuleNotRegistered) && req.Decision == repository.DecisionRejected) {
		return nil, err
	}

	decisions, err := s.ledger.ApprovalsAtStep(ctx, wf.ID, wf.CurrentStep)
	if err != nil {
		return nil, err
	}
	decided := make(map[string]bool, len(decisions)+1)
	approvedCount := 0
	for _, d := range decisions {
		decided[d.ApproverID] = true
		if d.Decision == repository.DecisionApproved {
			approvedCount++
		}
	}
	if decided[req.ApproverID] {
		return nil, fmt.Errorf("%w: %s at step %d", ErrDuplicateDecision, req.ApproverID, wf.CurrentStep)
	}

	activation, err := s.stepsRepo.Get(ctx, wf.ID, wf.CurrentStep)
	if err != nil && !errors.IsNotFound(err) {
		return nil, err
	}
	if activation != nil && len(activation.Approvers) > 0 {
		assigned := activation.HasApprover(req.ApproverID)
		if s.enforceAssignment && !assigned {
			return nil, fmt.Errorf("%w: %s at step %d", ErrApproverNotAssigned, req.ApproverID, wf.CurrentStep)
		}
		if assigned && activation.Type == repository.StepTypeSequential {
			if next := nextRecipients(activation, decided); len(next) > 0 && next[0] != req.ApproverID {
				return nil, fmt.Errorf("%w: %s before %s at step %d",
					ErrNotApproverTurn, req.ApproverID, next[0], wf.CurrentStep)
			}
		}
	}

	now := s.clock.Now()
	approval := &repository.WorkflowApproval{
		ID:         idgen.New(),
		WorkflowID: wf.ID,
		StepNumber: wf.CurrentStep,
		ApproverID: req.ApproverID,
		Decision:   req.Decision,
		Timestamp:  now,
		Comments:   req.Comments,
	}
	if err := s.ledger.AppendApproval(ctx, approval); err != nil {
		if errors.CodeOf(err) == errors.ErrCodeConflict {
			return nil, fmt.Errorf("%w: %s at step %d", ErrDuplicateDecision, req.ApproverID, wf.CurrentStep)
		}
		return nil, err
	}
	s.metrics.Decisions.WithLabelValues(string(req.Decision)).Inc()
	decided[req.ApproverID] = true

	result = &SubmitApprovalResult{
		WorkflowID: wf.ID,
		ApprovalID: approval.ID,
		StepNumber: approval.StepNumber,
	}

	switch {
	case req.Decision == repository.DecisionRejected:
		s.metrics.ObserveStep(wf.StepActivatedAt, now)
		err = s.complete(ctx, wf, repository.StatusRejected, now)
	case approvedCount+1 >= step.EffectiveRequired():
		result.StepCompleted = true
		err = s.advance(ctx, wf, rule, now)
	default:
		s.steps.NotifyNext(activation, decided)
	}
	if err != nil {
		return nil, err
	}

	result.Status = wf.Status
	result.CurrentStep = wf.CurrentStep

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("approver_id", req.ApproverID).
		Str("decision", string(req.Decision)).
		Int("step", approval.StepNumber).
		Int("approved", approvedCount+boolToInt(req.Decision == repository.DecisionApproved)).
		Str("status", string(wf.Status)).
		Msg("Approval decision recorded")

	return result, nil
}

// advance moves wf past its current step, completing it when none is left.
func (s *ApprovalRoutingService) advance(
	ctx context.Context,
	wf *repository.WorkflowInstance,
	rule *repository.ApprovalRule,
	now time.Time,
) error {
	s.metrics.ObserveStep(wf.StepActivatedAt, now)

	next, ok := rule.Step(wf.CurrentStep + 1)
	if !ok {
		return s.complete(ctx, wf, repository.StatusApproved, now)
	}

	wf.CurrentStep = next.StepNumber
	wf.StepActivatedAt = now
	if err := s.workflowRepo.Update(ctx, wf); err != nil {
		return err
	}
	if _, err := s.steps.ActivateStep(ctx, wf, rule, next); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "workflow advanced but step activation failed")
	}
	return nil
}

// complete moves wf to a terminal status and disarms its timer.
func (s *ApprovalRoutingService) complete(
	ctx context.Context,
	wf *repository.WorkflowInstance,
	status repository.WorkflowStatus,
	now time.Time,
) error {
	wf.Status = status
	completedAt := now
	wf.CompletedAt = &completedAt
	if err := s.workflowRepo.Update(ctx, wf); err != nil {
		return err
	}
	s.escalations.CancelWorkflow(wf.ID)
	s.metrics.WorkflowsCompleted.WithLabelValues(string(status)).Inc()

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("status", string(status)).
		Dur("duration", now.Sub(wf.StartedAt)).
		Msg("Approval workflow completed")
	return nil
}

// ── Escalation ────────────────────────────────────────────────────────────────

// handleEscalation runs when a step's timer fires. It only appends to the
// ledger and notifies; status and current step never change here.
func (s *ApprovalRoutingService) handleEscalation(workflowID string, stepNumber int) {
	ctx, cancel := context.WithTimeout(context.Background(), escalationHandlerTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "ApprovalRoutingService.handleEscalation",
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.Int("step", stepNumber),
		))
	var err error
	defer func() { endSpan(span, err) }()

	unlock := s.locks.Lock(workflowID)
	defer unlock()

	wf, err := s.loadWorkflow(ctx, workflowID)
	if err != nil {
		s.log.Warn().Err(err).Str("workflow_id", workflowID).Msg("Escalation fired for unknown workflow")
		return
	}
	if wf.Status != repository.StatusInProgress || wf.CurrentStep != stepNumber {
		s.log.Debug().
			Str("workflow_id", workflowID).
			Int("step", stepNumber).
			Int("current_step", wf.CurrentStep).
			Str("status", string(wf.Status)).
			Msg("Stale escalation ignored")
		return
	}

	rule, err := s.rulesRepo.Get(ctx, wf.RuleID)
	if err != nil {
		s.log.Warn().Err(err).Str("workflow_id", workflowID).Str("rule_id", wf.RuleID).
			Msg("Escalation fired but rule is no longer registered")
		return
	}
	if rule.Escalation == nil {
		return
	}

	already, err := s.stepEscalated(ctx, workflowID, stepNumber)
	if err != nil {
		s.log.Error().Err(err).Str("workflow_id", workflowID).Msg("Failed to read escalation ledger")
		return
	}
	if already {
		return
	}

	targets := s.steps.ResolveAll(ctx, workflowID, rule.Escalation.EscalateTo)
	escalation := &repository.WorkflowEscalation{
		ID:          idgen.New(),
		WorkflowID:  workflowID,
		StepNumber:  stepNumber,
		EscalatedAt: s.clock.Now(),
		EscalatedTo: targets,
	}
	if err = s.ledger.AppendEscalation(ctx, escalation); err != nil {
		s.log.Error().Err(err).Str("workflow_id", workflowID).Msg("Failed to record escalation")
		return
	}
	s.metrics.EscalationsFired.Inc()

	s.dispatcher.enqueue(notification{
		kind:       notifyEscalation,
		workflowID: workflowID,
		recipients: targets,
		template:   rule.Escalation.NotificationTemplate,
	})

	s.log.Info().
		Str("workflow_id", workflowID).
		Int("step", stepNumber).
		Strs("escalated_to", targets).
		Msg("Approval step escalated")
}

// ResumeEscalations re-arms timers for in-progress workflows after a
// restart. Steps already past due fire immediately. A current step with no
// activation record (its activation failed) is activated again. Returns the
// number of timers armed.
func (s *ApprovalRoutingService) ResumeEscalations(ctx context.Context) (int, error) {
	workflows, err := s.workflowRepo.ListInProgress(ctx)
	if err != nil {
		return 0, err
	}

	armed := 0
	now := s.clock.Now()
	for _, wf := range workflows {
		rule, err := s.rulesRepo.Get(ctx, wf.RuleID)
		if err != nil {
			s.log.Warn().Err(err).Str("workflow_id", wf.ID).Str("rule_id", wf.RuleID).
				Msg("Cannot resume escalation: rule not registered")
			continue
		}
		step, ok := rule.Step(wf.CurrentStep)
		if !ok {
			continue
		}
		delay, escalates := escalationDelay(rule, step)

		reactivated, err := s.reactivateMissingStep(ctx, wf.ID, rule, step)
		if err != nil {
			s.log.Error().Err(err).Str("workflow_id", wf.ID).Int("step", wf.CurrentStep).
				Msg("Failed to reactivate approval step")
			continue
		}
		if reactivated {
			if escalates {
				armed++
			}
			continue
		}
		if !escalates {
			continue
		}
		escalated, err := s.stepEscalated(ctx, wf.ID, wf.CurrentStep)
		if err != nil {
			return armed, err
		}
		if escalated {
			continue
		}

		remaining := wf.StepActivatedAt.Add(delay).Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		s.escalations.Schedule(wf.ID, wf.CurrentStep, remaining)
		armed++
	}

	s.log.Info().Int("armed", armed).Int("in_progress", len(workflows)).Msg("Escalation timers resumed")
	return armed, nil
}

// reactivateMissingStep activates the workflow's current step when no
// activation was recorded for it.
func (s *ApprovalRoutingService) reactivateMissingStep(
	ctx context.Context,
	workflowID string,
	rule *repository.ApprovalRule,
	step *repository.ApprovalStep,
) (bool, error) {
	unlock := s.locks.Lock(workflowID)
	defer unlock()

	wf, err := s.loadWorkflow(ctx, workflowID)
	if err != nil {
		return false, err
	}
	if wf.Status != repository.StatusInProgress || wf.CurrentStep != step.StepNumber {
		return false, nil
	}
	_, err = s.stepsRepo.Get(ctx, wf.ID, wf.CurrentStep)
	if err == nil || !errors.IsNotFound(err) {
		return false, err
	}
	if _, err := s.steps.ActivateStep(ctx, wf, rule, step); err != nil {
		return false, err
	}
	s.log.Info().Str("workflow_id", wf.ID).Int("step", wf.CurrentStep).Msg("Approval step reactivated")
	return true, nil
}

// ── Query helpers ─────────────────────────────────────────────────────────────

// GetWorkflowState returns the workflow, its ledger and its active step.
func (s *ApprovalRoutingService) GetWorkflowState(ctx context.Context, workflowID string) (state *WorkflowState, err error) {
	ctx, span := s.tracer.Start(ctx, "ApprovalRoutingService.GetWorkflowState",
		trace.WithAttributes(attribute.String("workflow.id", workflowID)))
	defer func() { endSpan(span, err) }()

	unlock := s.locks.Lock(workflowID)
	defer unlock()

	wf, err := s.loadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	approvals, err := s.ledger.Approvals(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	escalations, err := s.ledger.Escalations(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	state = &WorkflowState{
		Workflow:    wf,
		Approvals:   approvals,
		Escalations: escalations,
	}
	for _, e := range escalations {
		if e.StepNumber == wf.CurrentStep {
			state.Escalated = true
		}
	}
	if wf.Status == repository.StatusInProgress {
		active, err := s.stepsRepo.Get(ctx, workflowID, wf.CurrentStep)
		if err != nil && !errors.IsNotFound(err) {
			return nil, err
		}
		state.ActiveStep = active
	}
	return state, nil
}

// ListPendingForApprover returns the in-progress steps routed to approverID
// on which they have not decided yet. A SEQUENTIAL step is only pending for
// the approver whose turn it is.
func (s *ApprovalRoutingService) ListPendingForApprover(ctx context.Context, approverID string) ([]*PendingApproval, error) {
	if approverID == "" {
		return nil, errors.InvalidInput("approver_id", "approver id is required")
	}

	activations, err := s.stepsRepo.ListForApprover(ctx, approverID)
	if err != nil {
		return nil, err
	}

	pending := make([]*PendingApproval, 0, len(activations))
	for _, a := range activations {
		wf, err := s.workflowRepo.Get(ctx, a.WorkflowID)
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if wf.Status != repository.StatusInProgress || wf.CurrentStep != a.StepNumber {
			continue
		}

		decisions, err := s.ledger.ApprovalsAtStep(ctx, wf.ID, a.StepNumber)
		if err != nil {
			return nil, err
		}
		decided := make(map[string]bool, len(decisions))
		for _, d := range decisions {
			decided[d.ApproverID] = true
		}
		if decided[approverID] {
			continue
		}
		if a.Type == repository.StepTypeSequential {
			next := nextRecipients(a, decided)
			if len(next) == 0 || next[0] != approverID {
				continue
			}
		}

		pending = append(pending, &PendingApproval{
			WorkflowID:  wf.ID,
			SubjectID:   wf.SubjectID,
			RuleID:      wf.RuleID,
			StepNumber:  a.StepNumber,
			StepType:    a.Type,
			ActivatedAt: a.ActivatedAt,
			DueAt:       a.DueAt,
		})
	}
	return pending, nil
}

// ── Rules ─────────────────────────────────────────────────────────────────────

// RegisterRule validates and registers a rule. A rule with an existing id
// replaces it in place.
func (s *ApprovalRoutingService) RegisterRule(ctx context.Context, rule *repository.ApprovalRule) error {
	rule = rule.Clone()
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if err := s.rulesRepo.Register(ctx, rule); err != nil {
		return err
	}
	s.log.Info().Str("rule_id", rule.ID).Int("steps", len(rule.Steps)).Msg("Approval rule registered")
	return nil
}

// ReplaceRules validates every rule and swaps the whole rule set.
func (s *ApprovalRoutingService) ReplaceRules(ctx context.Context, rules []*repository.ApprovalRule) error {
	validated := make([]*repository.ApprovalRule, 0, len(rules))
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		r = r.Clone()
		if err := ValidateRule(r); err != nil {
			return err
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate rule id %s", ErrInvalidRule, r.ID)
		}
		seen[r.ID] = struct{}{}
		validated = append(validated, r)
	}
	if err := s.rulesRepo.ReplaceAll(ctx, validated); err != nil {
		return err
	}
	s.log.Info().Int("rules", len(validated)).Msg("Approval rule set replaced")
	return nil
}

// ListRules returns registered rules in evaluation order.
func (s *ApprovalRoutingService) ListRules(ctx context.Context) ([]*repository.ApprovalRule, error) {
	return s.rulesRepo.AllRules(ctx)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

func (s *ApprovalRoutingService) loadWorkflow(ctx context.Context, id string) (*repository.WorkflowInstance, error) {
	wf, err := s.workflowRepo.Get(ctx, id)
	if errors.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return wf, err
}

func (s *ApprovalRoutingService) loadStep(
	ctx context.Context,
	wf *repository.WorkflowInstance,
) (*repository.ApprovalRule, *repository.ApprovalStep, error) {
	rule, err := s.rulesRepo.Get(ctx, wf.RuleID)
	if errors.IsNotFound(err) {
		return nil, nil, fmt.Errorf("%w: rule %s of workflow %s", ErrRuleNotRegistered, wf.RuleID, wf.ID)
	}
	if err != nil {
		return nil, nil, err
	}
	step, ok := rule.Step(wf.CurrentStep)
	if !ok {
		return nil, nil, fmt.Errorf("%w: rule %s has no step %d for workflow %s",
			ErrRuleNotRegistered, rule.ID, wf.CurrentStep, wf.ID)
	}
	return rule, step, nil
}

func (s *ApprovalRoutingService) stepEscalated(ctx context.Context, workflowID string, stepNumber int) (bool, error) {
	escalations, err := s.ledger.Escalations(ctx, workflowID)
	if err != nil {
		return false, err
	}
	for _, e := range escalations {
		if e.StepNumber == stepNumber {
			return true, nil
		}
	}
	return false, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
