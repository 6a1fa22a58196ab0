package service

import (
	"context"

	"github.com/pesio-ai/be-approval-routing/internal/repository"
)

// RuleMatcher selects the first registered rule whose conditions all hold.
type RuleMatcher struct {
	rules repository.RuleRepository
}

// NewRuleMatcher creates a RuleMatcher over a rule repository.
func NewRuleMatcher(rules repository.RuleRepository) *RuleMatcher {
	return &RuleMatcher{rules: rules}
}

// FindApplicableRule evaluates rules in registration order. A rule without
// conditions matches every subject. Returns ErrNoApplicableRule when
// nothing matches.
func (m *RuleMatcher) FindApplicableRule(ctx context.Context, subject Subject) (*repository.ApprovalRule, error) {
	rules, err := m.rules.AllRules(ctx)
	if err != nil {
		return nil, err
	}
	for _, rule := range rules {
		if ruleMatches(rule, subject) {
			return rule, nil
		}
	}
	return nil, ErrNoApplicableRule
}

func ruleMatches(rule *repository.ApprovalRule, subject Subject) bool {
	for _, cond := range rule.Conditions {
		if !evaluateCondition(subject, cond) {
			return false
		}
	}
	return true
}
