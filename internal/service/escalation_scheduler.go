package service

import (
	"sync"
	"time"

	"github.com/pesio-ai/be-approval-routing/internal/clock"
)

// EscalationHandler is invoked when an armed timer fires and is still current.
type EscalationHandler func(workflowID string, stepNumber int)

// EscalationHandle identifies one arming of a workflow's timer.
type EscalationHandle struct {
	WorkflowID string
	StepNumber int
	generation uint64
}

type escalationEntry struct {
	handle EscalationHandle
	timer  clock.Timer
}

// EscalationScheduler keeps at most one pending escalation timer per
// workflow. Every arming gets a new generation; a firing whose generation
// is no longer registered does nothing, so a Stop that loses the race with
// the timer is harmless.
type EscalationScheduler struct {
	clock   clock.Clock
	handler EscalationHandler

	mu         sync.Mutex
	entries    map[string]*escalationEntry
	generation uint64
	closed     bool
}

// NewEscalationScheduler creates a scheduler that calls handler on expiry.
func NewEscalationScheduler(clk clock.Clock, handler EscalationHandler) *EscalationScheduler {
	return &EscalationScheduler{
		clock:   clk,
		handler: handler,
		entries: make(map[string]*escalationEntry),
	}
}

// Schedule arms the timer for a workflow step, replacing any pending timer
// of the same workflow.
func (s *EscalationScheduler) Schedule(workflowID string, stepNumber int, delay time.Duration) EscalationHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return EscalationHandle{WorkflowID: workflowID, StepNumber: stepNumber}
	}
	if prev, ok := s.entries[workflowID]; ok {
		prev.timer.Stop()
	}

	s.generation++
	h := EscalationHandle{WorkflowID: workflowID, StepNumber: stepNumber, generation: s.generation}
	entry := &escalationEntry{handle: h}
	s.entries[workflowID] = entry
	entry.timer = s.clock.AfterFunc(delay, func() { s.fire(h) })
	return h
}

// Cancel disarms the timer identified by h. It reports false when h is no
// longer the pending arming.
func (s *EscalationScheduler) Cancel(h EscalationHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[h.WorkflowID]
	if !ok || entry.handle.generation != h.generation {
		return false
	}
	entry.timer.Stop()
	delete(s.entries, h.WorkflowID)
	return true
}

// CancelWorkflow disarms whatever timer is pending for the workflow.
func (s *EscalationScheduler) CancelWorkflow(workflowID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[workflowID]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.entries, workflowID)
	return true
}

// Pending returns the pending arming for a workflow, if any.
func (s *EscalationScheduler) Pending(workflowID string) (EscalationHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[workflowID]
	if !ok {
		return EscalationHandle{}, false
	}
	return entry.handle, true
}

// Close stops every timer. Later Schedule calls are ignored.
func (s *EscalationScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		entry.timer.Stop()
		delete(s.entries, id)
	}
	s.closed = true
}

func (s *EscalationScheduler) fire(h EscalationHandle) {
	s.mu.Lock()
	entry, ok := s.entries[h.WorkflowID]
	if !ok || entry.handle.generation != h.generation {
		s.mu.Unlock()
		return
	}
	delete(s.entries, h.WorkflowID)
	s.mu.Unlock()

	s.handler(h.WorkflowID, h.StepNumber)
}
