package service

import "context"

// IdentityResolver expands an approver spec (user:<id>, role:<name>,
// department:<name>) into user ids. An empty result leaves the step open to
// any approver.
type IdentityResolver interface {
	ResolveApprovers(ctx context.Context, spec string) ([]string, error)
}

// Notifier delivers workflow events to people. Delivery failures are
// reported but never affect workflow state.
type Notifier interface {
	NotifyStepActivation(ctx context.Context, workflowID string, approverIDs []string) error
	NotifyEscalation(ctx context.Context, workflowID string, escalateTo []string, template string) error
}
