package service

import (
	"context"
	"sync"
	"time"

	"github.com/pesio-ai/be-approval-routing/internal/logger"
	"github.com/pesio-ai/be-approval-routing/internal/metrics"
)

type notificationKind string

const (
	notifyStepActivation notificationKind = "step_activation"
	notifyEscalation     notificationKind = "escalation"
)

type notification struct {
	kind       notificationKind
	workflowID string
	recipients []string
	template   string
}

// dispatcher hands notifications to the Notifier on worker goroutines. A
// full queue drops the notification rather than blocking the caller.
type dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	metrics  *metrics.Metrics
	log      *logger.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan notification
	wg     sync.WaitGroup
}

func newDispatcher(n Notifier, buffer, workers int, timeout time.Duration, m *metrics.Metrics, log *logger.Logger) *dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	if workers < 1 {
		workers = 1
	}
	d := &dispatcher{
		notifier: n,
		timeout:  timeout,
		metrics:  m,
		log:      log,
		queue:    make(chan notification, buffer),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.run()
	}
	return d
}

// enqueue reports whether the notification was accepted.
func (d *dispatcher) enqueue(n notification) bool {
	if len(n.recipients) == 0 {
		return true
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.queue <- n:
		return true
	default:
		d.metrics.NotificationsDropped.WithLabelValues(string(n.kind)).Inc()
		d.log.Warn().
			Str("workflow_id", n.workflowID).
			Str("kind", string(n.kind)).
			Int("recipients", len(n.recipients)).
			Msg("Notification queue full, dropping notification")
		return false
	}
}

// close stops accepting work and waits for queued notifications to drain.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *dispatcher) deliver(n notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var err error
	switch n.kind {
	case notifyStepActivation:
		err = d.notifier.NotifyStepActivation(ctx, n.workflowID, n.recipients)
	case notifyEscalation:
		err = d.notifier.NotifyEscalation(ctx, n.workflowID, n.recipients, n.template)
	}
	if err != nil {
		d.metrics.NotificationsFailed.WithLabelValues(string(n.kind)).Inc()
		d.log.Warn().Err(err).
			Str("workflow_id", n.workflowID).
			Str("kind", string(n.kind)).
			Msg("Failed to deliver notification (non-fatal)")
		return
	}
	d.metrics.NotificationsSent.WithLabelValues(string(n.kind)).Inc()
}
