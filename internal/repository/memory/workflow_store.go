package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/pesio-ai/be-approval-routing/internal/errors"
	"github.com/pesio-ai/be-approval-routing/internal/repository"
)

// WorkflowStore keeps workflow instances in memory.
type WorkflowStore struct {
	store *Store[string, repository.WorkflowInstance]
}

var _ repository.WorkflowRepository = (*WorkflowStore)(nil)

// NewWorkflowStore creates an empty WorkflowStore.
func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{
		store: NewStore(
			func(w *repository.WorkflowInstance) string { return w.ID },
			(*repository.WorkflowInstance).Clone,
		),
	}
}

func (s *WorkflowStore) Create(ctx context.Context, wf *repository.WorkflowInstance) error {
	if !s.store.Insert(ctx, wf) {
		return errors.New(errors.ErrCodeConflict, fmt.Sprintf("approval workflow %s already exists", wf.ID))
	}
	return nil
}

func (s *WorkflowStore) Get(ctx context.Context, id string) (*repository.WorkflowInstance, error) {
	wf, ok := s.store.Load(ctx, id)
	if !ok {
		return nil, errors.NotFound("approval_workflow", id)
	}
	return wf, nil
}

func (s *WorkflowStore) Update(ctx context.Context, wf *repository.WorkflowInstance) error {
	found, err := s.store.Mutate(ctx, wf.ID, func(current *repository.WorkflowInstance) (*repository.WorkflowInstance, error) {
		if current.Version != wf.Version {
			return nil, errors.New(errors.ErrCodeConflict,
				fmt.Sprintf("approval workflow %s was modified concurrently", wf.ID))
		}
		next := wf.Clone()
		next.Version++
		return next, nil
	})
	if !found {
		return errors.NotFound("approval_workflow", wf.ID)
	}
	if err != nil {
		return err
	}
	wf.Version++
	return nil
}

func (s *WorkflowStore) ListInProgress(ctx context.Context) ([]*repository.WorkflowInstance, error) {
	out := s.store.Filter(ctx, func(w *repository.WorkflowInstance) bool {
		return w.Status == repository.StatusInProgress
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}
