package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pesio-ai/be-approval-routing/internal/errors"
	"github.com/pesio-ai/be-approval-routing/internal/repository"
)

// RuleRegistry holds rules in registration order. Readers load an immutable
// snapshot without locking; writers serialize and publish a new snapshot.
type RuleRegistry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[[]*repository.ApprovalRule]
	now      func() time.Time
}

var _ repository.RuleRepository = (*RuleRegistry)(nil)

// NewRuleRegistry creates an empty registry.
func NewRuleRegistry() *RuleRegistry {
	r := &RuleRegistry{now: func() time.Time { return time.Now().UTC() }}
	empty := []*repository.ApprovalRule{}
	r.snapshot.Store(&empty)
	return r
}

func (r *RuleRegistry) Register(_ context.Context, rule *repository.ApprovalRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.snapshot.Load()
	next := make([]*repository.ApprovalRule, len(current), len(current)+1)
	copy(next, current)

	stored := rule.Clone()
	now := r.now()
	stored.CreatedAt, stored.UpdatedAt = now, now

	replaced := false
	for i, existing := range next {
		if existing.ID == rule.ID {
			stored.CreatedAt = existing.CreatedAt
			next[i] = stored
			replaced = true
			break
		}
	}
	if !replaced {
		next = append(next, stored)
	}
	r.snapshot.Store(&next)

	rule.CreatedAt, rule.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return nil
}

// AllRules returns the current snapshot. The rules are shared and must be
// treated as read-only.
func (r *RuleRegistry) AllRules(_ context.Context) ([]*repository.ApprovalRule, error) {
	return *r.snapshot.Load(), nil
}

func (r *RuleRegistry) Get(_ context.Context, id string) (*repository.ApprovalRule, error) {
	for _, rule := range *r.snapshot.Load() {
		if rule.ID == id {
			return rule, nil
		}
	}
	return nil, errors.NotFound("approval_rule", id)
}

func (r *RuleRegistry) ReplaceAll(_ context.Context, rules []*repository.ApprovalRule) error {
	seen := make(map[string]struct{}, len(rules))
	next := make([]*repository.ApprovalRule, 0, len(rules))
	now := r.now()
	for _, rule := range rules {
		if _, dup := seen[rule.ID]; dup {
			return errors.InvalidInput("id", fmt.Sprintf("duplicate rule id %q", rule.ID))
		}
		seen[rule.ID] = struct{}{}
		stored := rule.Clone()
		stored.CreatedAt, stored.UpdatedAt = now, now
		next = append(next, stored)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshot.Store(&next)
	return nil
}
