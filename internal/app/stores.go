package app

import (
	"context"
	"fmt"

	"github.com/MrWong99/proctora/internal/config"
	"github.com/MrWong99/proctora/internal/outcome"
)

// RegisterBuiltinStores registers the memory, file and postgres outcome
// backends on reg.
func RegisterBuiltinStores(reg *config.Registry) {
	reg.RegisterStore(config.BackendMemory, func(context.Context, config.OutcomeConfig) (outcome.Store, func() error, error) {
		return outcome.NewMemStore(), nil, nil
	})

	reg.RegisterStore(config.BackendFile, func(_ context.Context, cfg config.OutcomeConfig) (outcome.Store, func() error, error) {
		if cfg.Path == "" {
			return nil, nil, fmt.Errorf("outcome.path is required for the file backend")
		}
		return outcome.NewFileStore(cfg.Path), nil, nil
	})

	reg.RegisterStore(config.BackendPostgres, func(ctx context.Context, cfg config.OutcomeConfig) (outcome.Store, func() error, error) {
		pool, err := outcome.OpenPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store := outcome.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, func() error {
			pool.Close()
			return nil
		}, nil
	})
}
