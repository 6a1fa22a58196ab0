package memory

import (
	"context"
	"sort"

	"github.com/pesio-ai/be-approval-routing/internal/errors"
	"github.com/pesio-ai/be-approval-routing/internal/repository"
)

type activationKey struct {
	workflowID string
	step       int
}

// StepActivationStore keeps step activations in memory.
type StepActivationStore struct {
	store *Store[activationKey, repository.StepActivation]
}

var _ repository.StepActivationRepository = (*StepActivationStore)(nil)

// NewStepActivationStore creates an empty StepActivationStore.
func NewStepActivationStore() *StepActivationStore {
	return &StepActivationStore{
		store: NewStore(
			func(a *repository.StepActivation) activationKey {
				return activationKey{workflowID: a.WorkflowID, step: a.StepNumber}
			},
			(*repository.StepActivation).Clone,
		),
	}
}

func (s *StepActivationStore) Record(ctx context.Context, a *repository.StepActivation) error {
	s.store.Save(ctx, a)
	return nil
}

func (s *StepActivationStore) Get(ctx context.Context, workflowID string, stepNumber int) (*repository.StepActivation, error) {
	a, ok := s.store.Load(ctx, activationKey{workflowID: workflowID, step: stepNumber})
	if !ok {
		return nil, errors.NotFound("step_activation", workflowID)
	}
	return a, nil
}

// ListForApprover returns every activation naming the approver, including
// steps that are no longer current.
func (s *StepActivationStore) ListForApprover(ctx context.Context, approverID string) ([]*repository.StepActivation, error) {
	out := s.store.Filter(ctx, func(a *repository.StepActivation) bool {
		return a.HasApprover(approverID)
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].ActivatedAt.Before(out[j].ActivatedAt)
	})
	return out, nil
}
