package service

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pesio-ai/be-approval-routing/internal/repository"
)

// ValidateRule checks a rule before registration. Steps must be numbered
// 1..n in order. An empty step type defaults to PARALLEL.
func ValidateRule(rule *repository.ApprovalRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is nil", ErrInvalidRule)
	}
	if strings.TrimSpace(rule.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if len(rule.Steps) == 0 {
		return fmt.Errorf("%w: rule %s has no steps", ErrInvalidRule, rule.ID)
	}

	for i, cond := range rule.Conditions {
		if strings.TrimSpace(cond.Field) == "" {
			return fmt.Errorf("%w: rule %s condition %d: field is required", ErrInvalidRule, rule.ID, i)
		}
		if !cond.Operator.Valid() {
			return fmt.Errorf("%w: rule %s condition %d: unknown operator %q", ErrInvalidRule, rule.ID, i, cond.Operator)
		}
		if cond.Operator == repository.OpIn && !isSequence(cond.Value) {
			return fmt.Errorf("%w: rule %s condition %d: operator in needs a list value", ErrInvalidRule, rule.ID, i)
		}
	}

	for i := range rule.Steps {
		step := &rule.Steps[i]
		if step.StepNumber != i+1 {
			return fmt.Errorf("%w: rule %s: step %d is numbered %d", ErrInvalidRule, rule.ID, i+1, step.StepNumber)
		}
		if step.Type == "" {
			step.Type = repository.StepTypeParallel
		}
		if !step.Type.Valid() {
			return fmt.Errorf("%w: rule %s step %d: unknown type %q", ErrInvalidRule, rule.ID, step.StepNumber, step.Type)
		}
		if step.RequiredApprovals < 1 {
			return fmt.Errorf("%w: rule %s step %d: required_approvals must be positive", ErrInvalidRule, rule.ID, step.StepNumber)
		}
		if step.TimeoutHours < 0 {
			return fmt.Errorf("%w: rule %s step %d: timeout_hours must not be negative", ErrInvalidRule, rule.ID, step.StepNumber)
		}
	}

	if esc := rule.Escalation; esc != nil {
		if esc.TimeoutHours < 0 {
			return fmt.Errorf("%w: rule %s escalation: timeout_hours must not be negative", ErrInvalidRule, rule.ID)
		}
		if len(esc.EscalateTo) == 0 {
			return fmt.Errorf("%w: rule %s escalation: escalate_to is empty", ErrInvalidRule, rule.ID)
		}
	}
	return nil
}

func isSequence(v interface{}) bool {
	if v == nil {
		return false
	}
	kind := reflect.ValueOf(v).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}
