package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pesio-ai/be-approval-routing/internal/clock"
)

type firedLog struct {
	mu    sync.Mutex
	fires []EscalationHandle
}

func (f *firedLog) handle(workflowID string, stepNumber int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fires = append(f.fires, EscalationHandle{WorkflowID: workflowID, StepNumber: stepNumber})
}

func (f *firedLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fires)
}

func TestEscalationSchedulerFires(t *testing.T) {
	clk := clock.NewManual(epoch)
	log := &firedLog{}
	s := NewEscalationScheduler(clk, log.handle)

	s.Schedule("wf-1", 1, time.Hour)
	clk.Advance(59 * time.Minute)
	assert.Equal(t, 0, log.count())

	clk.Advance(time.Minute)
	assert.Equal(t, 1, log.count())
	assert.Equal(t, "wf-1", log.fires[0].WorkflowID)
	assert.Equal(t, 1, log.fires[0].StepNumber)

	_, pending := s.Pending("wf-1")
	assert.False(t, pending)
}

func TestEscalationSchedulerRescheduleReplaces(t *testing.T) {
	clk := clock.NewManual(epoch)
	log := &firedLog{}
	s := NewEscalationScheduler(clk, log.handle)

	first := s.Schedule("wf-1", 1, time.Hour)
	second := s.Schedule("wf-1", 2, 2*time.Hour)

	assert.False(t, s.Cancel(first), "superseded handle must not cancel the new arming")
	h, ok := s.Pending("wf-1")
	assert.True(t, ok)
	assert.Equal(t, 2, h.StepNumber)

	clk.Advance(3 * time.Hour)
	assert.Equal(t, 1, log.count())
	assert.Equal(t, 2, log.fires[0].StepNumber)
	assert.False(t, s.Cancel(second))
}

func TestEscalationSchedulerCancel(t *testing.T) {
	clk := clock.NewManual(epoch)
	log := &firedLog{}
	s := NewEscalationScheduler(clk, log.handle)

	h := s.Schedule("wf-1", 1, time.Hour)
	s.Schedule("wf-2", 1, time.Hour)
	assert.True(t, s.Cancel(h))
	assert.True(t, s.CancelWorkflow("wf-2"))
	assert.False(t, s.CancelWorkflow("wf-2"))

	clk.Advance(2 * time.Hour)
	assert.Equal(t, 0, log.count())
}

func TestEscalationSchedulerStaleFireIgnored(t *testing.T) {
	clk := clock.NewManual(epoch)
	log := &firedLog{}
	s := NewEscalationScheduler(clk, log.handle)

	h := s.Schedule("wf-1", 1, time.Hour)
	// A Stop that loses the race leaves the callback to run; the generation
	// check must swallow it.
	s.Schedule("wf-1", 2, 5*time.Hour)
	s.fire(h)
	assert.Equal(t, 0, log.count())

	clk.Advance(5 * time.Hour)
	assert.Equal(t, 1, log.count())
}

func TestEscalationSchedulerClose(t *testing.T) {
	clk := clock.NewManual(epoch)
	log := &firedLog{}
	s := NewEscalationScheduler(clk, log.handle)

	s.Schedule("wf-1", 1, time.Hour)
	s.Close()
	s.Schedule("wf-2", 1, time.Hour)

	clk.Advance(2 * time.Hour)
	assert.Equal(t, 0, log.count())
	assert.Equal(t, 0, clk.Pending())
}
