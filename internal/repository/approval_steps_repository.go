package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-approval-routing/internal/database"
	"github.com/pesio-ai/be-approval-routing/internal/errors"
)

// ApprovalStepsRepository records which approvers each activated step was
// routed to.
type ApprovalStepsRepository struct {
	db *database.DB
}

// NewApprovalStepsRepository creates a new ApprovalStepsRepository.
func NewApprovalStepsRepository(db *database.DB) *ApprovalStepsRepository {
	return &ApprovalStepsRepository{db: db}
}

var _ StepActivationRepository = (*ApprovalStepsRepository)(nil)

// Record stores an activation. Re-activating the same step overwrites it.
func (r *ApprovalStepsRepository) Record(ctx context.Context, a *StepActivation) error {
	query := `
		INSERT INTO approval_step_activations
		    (workflow_id, step_number, step_type, approvers, activated_at, due_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (workflow_id, step_number) DO UPDATE
		SET step_type    = EXCLUDED.step_type,
		    approvers    = EXCLUDED.approvers,
		    activated_at = EXCLUDED.activated_at,
		    due_at       = EXCLUDED.due_at
	`

	approvers := a.Approvers
	if approvers == nil {
		approvers = []string{}
	}
	_, err := r.db.Exec(ctx, query,
		a.WorkflowID,
		a.StepNumber,
		a.Type,
		approvers,
		a.ActivatedAt,
		a.DueAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to record step activation")
	}
	return nil
}

// Get returns the activation of one step.
func (r *ApprovalStepsRepository) Get(ctx context.Context, workflowID string, stepNumber int) (*StepActivation, error) {
	query := `
		SELECT workflow_id, step_number, step_type, approvers, activated_at, due_at
		FROM approval_step_activations
		WHERE workflow_id = $1 AND step_number = $2
	`

	a, err := r.scanActivation(r.db.QueryRow(ctx, query, workflowID, stepNumber))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("step_activation", workflowID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get step activation")
	}
	return a, nil
}

// ListForApprover returns the current-step activations of in-progress
// workflows that list the approver, earliest due first.
func (r *ApprovalStepsRepository) ListForApprover(ctx context.Context, approverID string) ([]*StepActivation, error) {
	query := `
		SELECT s.workflow_id, s.step_number, s.step_type, s.approvers, s.activated_at, s.due_at
		FROM approval_step_activations s
		JOIN approval_workflows w
		  ON w.id = s.workflow_id AND w.current_step = s.step_number
		WHERE w.status = $1
		  AND $2 = ANY (s.approvers)
		ORDER BY s.due_at ASC NULLS LAST, s.activated_at ASC
	`

	rows, err := r.db.Query(ctx, query, StatusInProgress, approverID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	var out []*StepActivation
	for rows.Next() {
		a, err := r.scanActivation(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan step activation")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate step activations")
	}
	return out, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type activationScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalStepsRepository) scanActivation(row activationScanner) (*StepActivation, error) {
	a := &StepActivation{}
	err := row.Scan(
		&a.WorkflowID,
		&a.StepNumber,
		&a.Type,
		&a.Approvers,
		&a.ActivatedAt,
		&a.DueAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}
