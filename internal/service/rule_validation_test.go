package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-approval-routing/internal/errors"
	"github.com/pesio-ai/be-approval-routing/internal/repository"
)

func validRule() *repository.ApprovalRule {
	return &repository.ApprovalRule{
		ID:         "r",
		Name:       "rule",
		Conditions: []repository.ApprovalCondition{cond("amount", repository.OpGt, 10)},
		Steps: []repository.ApprovalStep{
			step(1, "", 1, "role:manager"),
			step(2, repository.StepTypeAnyOne, 1, "role:director"),
		},
	}
}

func TestValidateRuleDefaultsStepType(t *testing.T) {
	r := validRule()
	require.NoError(t, ValidateRule(r))
	assert.Equal(t, repository.StepTypeParallel, r.Steps[0].Type)
	assert.Equal(t, repository.StepTypeAnyOne, r.Steps[1].Type)
}

func TestValidateRuleRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *repository.ApprovalRule)
		msg    string
	}{
		{"missing id", func(r *repository.ApprovalRule) { r.ID = " " }, "id is required"},
		{"no steps", func(r *repository.ApprovalRule) { r.Steps = nil }, "has no steps"},
		{"gap in numbering", func(r *repository.ApprovalRule) { r.Steps[1].StepNumber = 3 }, "numbered 3"},
		{"unknown type", func(r *repository.ApprovalRule) { r.Steps[0].Type = "ROUND_ROBIN" }, "unknown type"},
		{"zero required", func(r *repository.ApprovalRule) { r.Steps[0].RequiredApprovals = 0 }, "required_approvals"},
		{"negative timeout", func(r *repository.ApprovalRule) { r.Steps[0].TimeoutHours = -1 }, "timeout_hours"},
		{"unknown operator", func(r *repository.ApprovalRule) { r.Conditions[0].Operator = "like" }, "unknown operator"},
		{"empty field", func(r *repository.ApprovalRule) { r.Conditions[0].Field = "" }, "field is required"},
		{"in without list", func(r *repository.ApprovalRule) {
			r.Conditions[0] = cond("dept", repository.OpIn, "finance")
		}, "needs a list"},
		{"escalation without targets", func(r *repository.ApprovalRule) {
			r.Escalation = &repository.EscalationRule{TimeoutHours: 1}
		}, "escalate_to is empty"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := validRule()
			tc.mutate(r)
			err := ValidateRule(r)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRule)
			assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestValidateRuleNil(t *testing.T) {
	assert.ErrorIs(t, ValidateRule(nil), ErrInvalidRule)
}
