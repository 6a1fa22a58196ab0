package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-approval-routing/internal/database"
	"github.com/pesio-ai/be-approval-routing/internal/errors"
)

// ApprovalWorkflowRepository persists workflow instances in Postgres.
type ApprovalWorkflowRepository struct {
	db *database.DB
}

// NewApprovalWorkflowRepository creates a new ApprovalWorkflowRepository.
func NewApprovalWorkflowRepository(db *database.DB) *ApprovalWorkflowRepository {
	return &ApprovalWorkflowRepository{db: db}
}

var _ WorkflowRepository = (*ApprovalWorkflowRepository)(nil)

// Create inserts a new workflow instance.
func (r *ApprovalWorkflowRepository) Create(ctx context.Context, wf *WorkflowInstance) error {
	query := `
		INSERT INTO approval_workflows
		    (id, subject_id, rule_id, current_step, status,
		     started_at, step_activated_at, completed_at, version)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9)
	`

	_, err := r.db.Exec(ctx, query,
		wf.ID,
		wf.SubjectID,
		wf.RuleID,
		wf.CurrentStep,
		wf.Status,
		wf.StartedAt,
		wf.StepActivatedAt,
		wf.CompletedAt,
		wf.Version,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval workflow")
	}
	return nil
}

// Get retrieves a workflow by its primary key.
func (r *ApprovalWorkflowRepository) Get(ctx context.Context, id string) (*WorkflowInstance, error) {
	query := `
		SELECT id, subject_id, rule_id, current_step, status,
		       started_at, step_activated_at, completed_at, version
		FROM approval_workflows
		WHERE id = $1
	`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_workflow", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval workflow")
	}
	return wf, nil
}

// Update writes the mutable workflow fields when the stored version still
// matches wf.Version.
func (r *ApprovalWorkflowRepository) Update(ctx context.Context, wf *WorkflowInstance) error {
	query := `
		UPDATE approval_workflows
		SET current_step      = $3,
		    status            = $4,
		    step_activated_at = $5,
		    completed_at      = $6,
		    version           = version + 1,
		    updated_at        = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version
	`

	var version int64
	err := r.db.QueryRow(ctx, query,
		wf.ID,
		wf.Version,
		wf.CurrentStep,
		wf.Status,
		wf.StepActivatedAt,
		wf.CompletedAt,
	).Scan(&version)
	if err == pgx.ErrNoRows {
		if _, getErr := r.Get(ctx, wf.ID); getErr != nil {
			return getErr
		}
		return errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("approval workflow %s was modified concurrently", wf.ID))
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval workflow")
	}
	wf.Version = version
	return nil
}

// ListInProgress returns every workflow that has not reached a terminal status.
func (r *ApprovalWorkflowRepository) ListInProgress(ctx context.Context) ([]*WorkflowInstance, error) {
	query := `
		SELECT id, subject_id, rule_id, current_step, status,
		       started_at, step_activated_at, completed_at, version
		FROM approval_workflows
		WHERE status = $1
		ORDER BY started_at ASC
	`

	rows, err := r.db.Query(ctx, query, StatusInProgress)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list in-progress workflows")
	}
	defer rows.Close()

	var workflows []*WorkflowInstance
	for rows.Next() {
		wf, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval workflow")
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approval workflows")
	}
	return workflows, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type workflowScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalWorkflowRepository) scanWorkflow(row workflowScanner) (*WorkflowInstance, error) {
	wf := &WorkflowInstance{}
	err := row.Scan(
		&wf.ID,
		&wf.SubjectID,
		&wf.RuleID,
		&wf.CurrentStep,
		&wf.Status,
		&wf.StartedAt,
		&wf.StepActivatedAt,
		&wf.CompletedAt,
		&wf.Version,
	)
	if err != nil {
		return nil, err
	}
	return wf, nil
}
