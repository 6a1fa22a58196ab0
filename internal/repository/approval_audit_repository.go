package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-approval-routing/internal/database"
	"github.com/pesio-ai/be-approval-routing/internal/errors"
)

// ApprovalLedgerRepository appends and reads the immutable approval ledger.
// Both tables carry an update/delete-prevention trigger so appends are the
// only mutation exposed.
type ApprovalLedgerRepository struct {
	db *database.DB
}

// NewApprovalLedgerRepository creates a new ApprovalLedgerRepository.
func NewApprovalLedgerRepository(db *database.DB) *ApprovalLedgerRepository {
	return &ApprovalLedgerRepository{db: db}
}

var _ LedgerRepository = (*ApprovalLedgerRepository)(nil)

// AppendApproval inserts one decision. A second decision by the same
// approver at the same step violates a unique constraint and is reported as
// a CONFLICT.
func (r *ApprovalLedgerRepository) AppendApproval(ctx context.Context, a *WorkflowApproval) error {
	query := `
		INSERT INTO approval_ledger_approvals
		    (id, workflow_id, step_number, approver_id,
		     decision, comments, decided_at)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7)
		ON CONFLICT (workflow_id, step_number, approver_id) DO NOTHING
		RETURNING id
	`

	var id string
	err := r.db.QueryRow(ctx, query,
		a.ID,
		a.WorkflowID,
		a.StepNumber,
		a.ApproverID,
		a.Decision,
		a.Comments,
		a.Timestamp,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeConflict, "approver already decided at this step")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append approval")
	}
	return nil
}

// AppendEscalation inserts one escalation record.
func (r *ApprovalLedgerRepository) AppendEscalation(ctx context.Context, e *WorkflowEscalation) error {
	query := `
		INSERT INTO approval_ledger_escalations
		    (id, workflow_id, step_number, escalated_to, escalated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	escalatedTo := e.EscalatedTo
	if escalatedTo == nil {
		escalatedTo = []string{}
	}
	if _, err := r.db.Exec(ctx, query, e.ID, e.WorkflowID, e.StepNumber, escalatedTo, e.EscalatedAt); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append escalation")
	}
	return nil
}

// Approvals returns every decision for a workflow, oldest first.
func (r *ApprovalLedgerRepository) Approvals(ctx context.Context, workflowID string) ([]*WorkflowApproval, error) {
	query := `
		SELECT id, workflow_id, step_number, approver_id,
		       decision, comments, decided_at
		FROM approval_ledger_approvals
		WHERE workflow_id = $1
		ORDER BY decided_at ASC, seq ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow approvals")
	}
	defer rows.Close()

	return r.scanApprovals(rows)
}

// ApprovalsAtStep returns the decisions recorded for one step, oldest first.
func (r *ApprovalLedgerRepository) ApprovalsAtStep(ctx context.Context, workflowID string, stepNumber int) ([]*WorkflowApproval, error) {
	query := `
		SELECT id, workflow_id, step_number, approver_id,
		       decision, comments, decided_at
		FROM approval_ledger_approvals
		WHERE workflow_id = $1 AND step_number = $2
		ORDER BY decided_at ASC, seq ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID, stepNumber)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get step approvals")
	}
	defer rows.Close()

	return r.scanApprovals(rows)
}

// Escalations returns every escalation for a workflow, oldest first.
func (r *ApprovalLedgerRepository) Escalations(ctx context.Context, workflowID string) ([]*WorkflowEscalation, error) {
	query := `
		SELECT id, workflow_id, step_number, escalated_to, escalated_at
		FROM approval_ledger_escalations
		WHERE workflow_id = $1
		ORDER BY escalated_at ASC, seq ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow escalations")
	}
	defer rows.Close()

	var out []*WorkflowEscalation
	for rows.Next() {
		e := &WorkflowEscalation{}
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.StepNumber, &e.EscalatedTo, &e.EscalatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan escalation")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate escalations")
	}
	return out, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *ApprovalLedgerRepository) scanApprovals(rows pgx.Rows) ([]*WorkflowApproval, error) {
	var out []*WorkflowApproval
	for rows.Next() {
		a := &WorkflowApproval{}
		err := rows.Scan(
			&a.ID,
			&a.WorkflowID,
			&a.StepNumber,
			&a.ApproverID,
			&a.Decision,
			&a.Comments,
			&a.Timestamp,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approvals")
	}
	return out, nil
}
