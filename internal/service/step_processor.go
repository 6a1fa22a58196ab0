package service

import (
	"context"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pesio-ai/be-approval-routing/internal/clock"
	"github.com/pesio-ai/be-approval-routing/internal/logger"
	"github.com/pesio-ai/be-approval-routing/internal/repository"
)

// maxConcurrentResolutions bounds identity lookups per step.
const maxConcurrentResolutions = 8

// StepProcessor activates workflow steps: it resolves approvers, records the
// activation, notifies and arms the escalation timer.
type StepProcessor struct {
	identity    IdentityResolver
	stepsRepo   repository.StepActivationRepository
	escalations *EscalationScheduler
	dispatcher  *dispatcher
	clock       clock.Clock
	log         *logger.Logger
}

func newStepProcessor(
	identity IdentityResolver,
	stepsRepo repository.StepActivationRepository,
	escalations *EscalationScheduler,
	d *dispatcher,
	clk clock.Clock,
	log *logger.Logger,
) *StepProcessor {
	return &StepProcessor{
		identity:    identity,
		stepsRepo:   stepsRepo,
		escalations: escalations,
		dispatcher:  d,
		clock:       clk,
		log:         log,
	}
}

// ActivateStep makes step the active step of wf. Any timer armed for the
// previous step is disarmed first.
func (p *StepProcessor) ActivateStep(
	ctx context.Context,
	wf *repository.WorkflowInstance,
	rule *repository.ApprovalRule,
	step *repository.ApprovalStep,
) (*repository.StepActivation, error) {
	p.escalations.CancelWorkflow(wf.ID)

	approvers := p.ResolveAll(ctx, wf.ID, step.Approvers)
	activation := &repository.StepActivation{
		WorkflowID:  wf.ID,
		StepNumber:  step.StepNumber,
		Type:        step.Type,
		Approvers:   approvers,
		ActivatedAt: wf.StepActivatedAt,
	}
	if activation.ActivatedAt.IsZero() {
		activation.ActivatedAt = p.clock.Now()
	}

	delay, escalates := escalationDelay(rule, step)
	if escalates {
		due := activation.ActivatedAt.Add(delay)
		activation.DueAt = &due
	}

	if err := p.stepsRepo.Record(ctx, activation); err != nil {
		return nil, err
	}

	p.dispatcher.enqueue(notification{
		kind:       notifyStepActivation,
		workflowID: wf.ID,
		recipients: nextRecipients(activation, nil),
	})

	if escalates {
		p.escalations.Schedule(wf.ID, step.StepNumber, max(activation.DueAt.Sub(p.clock.Now()), 0))
	}

	p.log.Debug().
		Str("workflow_id", wf.ID).
		Int("step", step.StepNumber).
		Str("type", string(step.Type)).
		Int("approvers", len(approvers)).
		Bool("escalation_armed", escalates).
		Msg("Approval step activated")

	return activation, nil
}

// NotifyNext hands a SEQUENTIAL step to its next undecided approver.
func (p *StepProcessor) NotifyNext(activation *repository.StepActivation, decided map[string]bool) {
	if activation == nil || activation.Type != repository.StepTypeSequential {
		return
	}
	p.dispatcher.enqueue(notification{
		kind:       notifyStepActivation,
		workflowID: activation.WorkflowID,
		recipients: nextRecipients(activation, decided),
	})
}

// ResolveAll expands approver specs concurrently, preserving spec order and
// dropping duplicates. Failed lookups are logged and skipped.
func (p *StepProcessor) ResolveAll(ctx context.Context, workflowID string, specs []string) []string {
	results := make([][]string, len(specs))

	var g errgroup.Group
	g.SetLimit(maxConcurrentResolutions)
	for i, spec := range specs {
		g.Go(func() error {
			ids, err := p.identity.ResolveApprovers(ctx, spec)
			if err != nil {
				p.log.Warn().Err(err).
					Str("workflow_id", workflowID).
					Str("approver_spec", spec).
					Msg("Could not resolve approvers; step left open for this spec")
				return nil
			}
			results[i] = ids
			return nil
		})
	}
	_ = g.Wait()

	var out []string
	seen := make(map[string]struct{})
	for _, ids := range results {
		for _, id := range ids {
			if _, dup := seen[id]; dup || id == "" {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// nextRecipients returns who to notify for a step. SEQUENTIAL steps notify
// the first approver who has not decided yet; other types notify everyone.
func nextRecipients(activation *repository.StepActivation, decided map[string]bool) []string {
	if activation.Type != repository.StepTypeSequential {
		return slices.Clone(activation.Approvers)
	}
	for _, id := range activation.Approvers {
		if !decided[id] {
			return []string{id}
		}
	}
	return nil
}

// escalationDelay reports the timer delay for a step. A step escalates only
// when it has a timeout and its rule has an escalation rule.
func escalationDelay(rule *repository.ApprovalRule, step *repository.ApprovalStep) (time.Duration, bool) {
	if rule.Escalation == nil {
		return 0, false
	}
	return step.Timeout()
}
