package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pesio-ai/be-approval-routing/internal/clock"
	"github.com/pesio-ai/be-approval-routing/internal/metrics"
)

const (
	defaultDispatchBuffer      = 256
	defaultDispatchWorkers     = 4
	defaultNotificationTimeout = 10 * time.Second
	tracerName                 = "github.com/pesio-ai/be-approval-routing/internal/service"
)

type options struct {
	clock               clock.Clock
	metrics             *metrics.Metrics
	tracerProvider      trace.TracerProvider
	enforceAssignment   bool
	dispatchBuffer      int
	dispatchWorkers     int
	notificationTimeout time.Duration
}

// Option customises an ApprovalRoutingService.
type Option func(*options)

// WithClock replaces the wall clock, e.g. with clock.NewManual in tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMetrics sets the collectors the service reports to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider sets the provider spans are created from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithAssignmentEnforcement rejects decisions from approvers the active step
// was not routed to. Steps whose approvers could not be resolved stay open.
func WithAssignmentEnforcement(enabled bool) Option {
	return func(o *options) { o.enforceAssignment = enabled }
}

// WithDispatcher sizes the notification queue and its worker pool.
func WithDispatcher(buffer, workers int) Option {
	return func(o *options) {
		o.dispatchBuffer = buffer
		o.dispatchWorkers = workers
	}
}

// WithNotificationTimeout bounds each notifier call.
func WithNotificationTimeout(d time.Duration) Option {
	return func(o *options) { o.notificationTimeout = d }
}

func buildOptions(opts []Option) options {
	o := options{
		dispatchBuffer:      defaultDispatchBuffer,
		dispatchWorkers:     defaultDispatchWorkers,
		notificationTimeout: defaultNotificationTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.metrics == nil {
		o.metrics = metrics.New(prometheus.NewRegistry())
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	if o.notificationTimeout <= 0 {
		o.notificationTimeout = defaultNotificationTimeout
	}
	return o
}
