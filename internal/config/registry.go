package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/proctora/internal/outcome"
)

// ErrBackendNotRegistered is returned by [Registry.CreateStore] when no
// factory has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: outcome backend not registered")

// StoreFactory builds an outcome store from its config section. The returned
// close function releases the backend's resources and may be nil.
type StoreFactory func(ctx context.Context, cfg OutcomeConfig) (outcome.Store, func() error, error)

// Registry maps outcome backend names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]StoreFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]StoreFactory)}
}

// RegisterStore registers an outcome store factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterStore(name string, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[name] = factory
}

// Backends returns the registered backend names in sorted order.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateStore instantiates the store registered under cfg.Backend. An empty
// backend selects [BackendMemory].
// Returns [ErrBackendNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateStore(ctx context.Context, cfg OutcomeConfig) (outcome.Store, func() error, error) {
	name := cfg.Backend
	if name == "" {
		name = BackendMemory
	}
	r.mu.RLock()
	factory, ok := r.stores[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, name)
	}
	return factory(ctx, cfg)
}
