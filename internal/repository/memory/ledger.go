package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/pesio-ai/be-approval-routing/internal/errors"
	"github.com/pesio-ai/be-approval-routing/internal/repository"
)

// Ledger is an append-only in-memory approval ledger. Entries are kept in
// append order, which is timestamp order for a single-writer workflow.
type Ledger struct {
	mu          sync.RWMutex
	approvals   map[string][]repository.WorkflowApproval
	escalations map[string][]repository.WorkflowEscalation
}

var _ repository.LedgerRepository = (*Ledger)(nil)

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		approvals:   make(map[string][]repository.WorkflowApproval),
		escalations: make(map[string][]repository.WorkflowEscalation),
	}
}

func (l *Ledger) AppendApproval(_ context.Context, a *repository.WorkflowApproval) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.approvals[a.WorkflowID] {
		if existing.StepNumber == a.StepNumber && existing.ApproverID == a.ApproverID {
			return errors.New(errors.ErrCodeConflict, "approver already decided at this step")
		}
	}
	l.approvals[a.WorkflowID] = append(l.approvals[a.WorkflowID], *a)
	return nil
}

func (l *Ledger) AppendEscalation(_ context.Context, e *repository.WorkflowEscalation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := *e
	entry.EscalatedTo = slices.Clone(e.EscalatedTo)
	l.escalations[e.WorkflowID] = append(l.escalations[e.WorkflowID], entry)
	return nil
}

func (l *Ledger) Approvals(_ context.Context, workflowID string) ([]*repository.WorkflowApproval, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyApprovals(l.approvals[workflowID], func(*repository.WorkflowApproval) bool { return true }), nil
}

func (l *Ledger) ApprovalsAtStep(_ context.Context, workflowID string, stepNumber int) ([]*repository.WorkflowApproval, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyApprovals(l.approvals[workflowID], func(a *repository.WorkflowApproval) bool {
		return a.StepNumber == stepNumber
	}), nil
}

func (l *Ledger) Escalations(_ context.Context, workflowID string) ([]*repository.WorkflowEscalation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := l.escalations[workflowID]
	out := make([]*repository.WorkflowEscalation, 0, len(entries))
	for i := range entries {
		e := entries[i]
		e.EscalatedTo = slices.Clone(e.EscalatedTo)
		out = append(out, &e)
	}
	return out, nil
}

func copyApprovals(entries []repository.WorkflowApproval, keep func(*repository.WorkflowApproval) bool) []*repository.WorkflowApproval {
	out := make([]*repository.WorkflowApproval, 0, len(entries))
	for i := range entries {
		if !keep(&entries[i]) {
			continue
		}
		a := entries[i]
		out = append(out, &a)
	}
	return out
}
