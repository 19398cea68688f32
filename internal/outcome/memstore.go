package outcome

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// MemStore is an in-memory [Store].
type MemStore struct {
	mu    sync.RWMutex
	items map[string]Outcome
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string]Outcome)}
}

// Save implements [Store].
func (s *MemStore) Save(_ context.Context, o Outcome) error {
	if err := o.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[o.ViewID] = o
	return nil
}

// Recent implements [Store].
func (s *MemStore) Recent(_ context.Context, limit int) ([]Outcome, error) {
	s.mu.RLock()
	out := make([]Outcome, 0, len(s.items))
	for _, o := range s.items {
		out = append(out, o)
	}
	s.mu.RUnlock()
	return newestFirst(out, limit), nil
}

// Ping implements [Store]. It always succeeds.
func (s *MemStore) Ping(context.Context) error { return nil }

func newestFirst(out []Outcome, limit int) []Outcome {
	slices.SortFunc(out, func(a, b Outcome) int {
		if c := b.EndedAt.Compare(a.EndedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ViewID, b.ViewID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
