package repository

import "context"

// RuleRepository stores approval rules in registration order. Register
// replaces a rule with the same id in place, keeping its position.
type RuleRepository interface {
	Register(ctx context.Context, rule *ApprovalRule) error
	AllRules(ctx context.Context) ([]*ApprovalRule, error)
	Get(ctx context.Context, id string) (*ApprovalRule, error)
	ReplaceAll(ctx context.Context, rules []*ApprovalRule) error
}

// WorkflowRepository stores workflow instances. Update fails with a
// CONFLICT error when wf.Version no longer matches the stored version and
// bumps wf.Version on success.
type WorkflowRepository interface {
	Create(ctx context.Context, wf *WorkflowInstance) error
	Get(ctx context.Context, id string) (*WorkflowInstance, error)
	Update(ctx context.Context, wf *WorkflowInstance) error
	ListInProgress(ctx context.Context) ([]*WorkflowInstance, error)
}

// LedgerRepository is the append-only record of decisions and escalations.
// Reads return entries in timestamp order.
type LedgerRepository interface {
	AppendApproval(ctx context.Context, approval *WorkflowApproval) error
	AppendEscalation(ctx context.Context, escalation *WorkflowEscalation) error
	Approvals(ctx context.Context, workflowID string) ([]*WorkflowApproval, error)
	ApprovalsAtStep(ctx context.Context, workflowID string, stepNumber int) ([]*WorkflowApproval, error)
	Escalations(ctx context.Context, workflowID string) ([]*WorkflowEscalation, error)
}

// StepActivationRepository records step activations, one per workflow step.
// ListForApprover may return activations of steps that are no longer
// current; callers filter against workflow state.
type StepActivationRepository interface {
	Record(ctx context.Context, activation *StepActivation) error
	Get(ctx context.Context, workflowID string, stepNumber int) (*StepActivation, error)
	ListForApprover(ctx context.Context, approverID string) ([]*StepActivation, error)
}
