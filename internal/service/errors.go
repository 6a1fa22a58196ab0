package service

import "github.com/pesio-ai/be-approval-routing/internal/errors"

// Routing errors. Callers match them with errors.Is; transports map them by
// code.
var (
	ErrNoApplicableRule         = errors.New(errors.ErrCodeNotFound, "no applicable approval rule")
	ErrWorkflowNotFound         = errors.New(errors.ErrCodeNotFound, "approval workflow not found")
	ErrWorkflowAlreadyCompleted = errors.New(errors.ErrCodeConflict, "approval workflow already completed")
	ErrInvalidStepSubmission    = errors.New(errors.ErrCodeConflict, "decision submitted for a step that is not current")
	ErrDuplicateDecision        = errors.New(errors.ErrCodeConflict, "approver already decided at this step")
	ErrApproverNotAssigned      = errors.New(errors.ErrCodeUnauthorized, "approver is not assigned to the current step")
	ErrNotApproverTurn          = errors.New(errors.ErrCodeConflict, "sequential step is waiting on another approver")
	ErrRuleNotRegistered        = errors.New(errors.ErrCodeNotFound, "workflow rule is no longer registered")
	ErrInvalidRule              = errors.New(errors.ErrCodeInvalidInput, "invalid approval rule")
)
