// Package memory provides in-process implementations of the repository
// interfaces. They back the service when no database is configured and in
// tests.
package memory

import (
	"context"
	"sync"
)

// Store is a generic map-backed record store. Records are cloned on the way
// in and on the way out so callers never share memory with the store.
type Store[K comparable, T any] struct {
	mu          sync.RWMutex
	records     map[K]*T
	keySelector func(*T) K
	clone       func(*T) *T
}

// NewStore creates a Store. keySelector extracts the record key; clone
// returns a deep copy.
func NewStore[K comparable, T any](keySelector func(*T) K, clone func(*T) *T) *Store[K, T] {
	return &Store[K, T]{
		records:     make(map[K]*T),
		keySelector: keySelector,
		clone:       clone,
	}
}

// Save stores or overwrites a record.
func (s *Store[K, T]) Save(_ context.Context, v *T) {
	if v == nil {
		return
	}
	key := s.keySelector(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = s.clone(v)
}

// Insert stores v only when its key is free and reports whether it did.
func (s *Store[K, T]) Insert(_ context.Context, v *T) bool {
	key := s.keySelector(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return false
	}
	s.records[key] = s.clone(v)
	return true
}

// Load returns a copy of the record stored under key.
func (s *Store[K, T]) Load(_ context.Context, key K) (*T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[key]
	if !ok {
		return nil, false
	}
	return s.clone(v), true
}

// Mutate runs fn against the stored record under the write lock. The
// record is only replaced when fn returns nil.
func (s *Store[K, T]) Mutate(_ context.Context, key K, fn func(current *T) (*T, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[key]
	if !ok {
		return false, nil
	}
	next, err := fn(s.clone(current))
	if err != nil {
		return true, err
	}
	s.records[key] = s.clone(next)
	return true, nil
}

// Filter returns copies of every record for which keep returns true.
func (s *Store[K, T]) Filter(_ context.Context, keep func(*T) bool) []*T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*T
	for _, v := range s.records {
		if keep(v) {
			out = append(out, s.clone(v))
		}
	}
	return out
}
