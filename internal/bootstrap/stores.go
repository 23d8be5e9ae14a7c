// Package bootstrap opens the persistence backends selected by configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/backuprestore/internal/config"
	"example.com/backuprestore/internal/domain"
	"example.com/backuprestore/internal/persistence/memory"
	"example.com/backuprestore/internal/persistence/postgres"
)

// Stores bundles the training store and the job store. Pool is nil for the memory driver.
type Stores struct {
	Training domain.Store
	Jobs     domain.JobStore
	Pool     *pgxpool.Pool
}

// Open connects to the backend named by cfg.StoreDriver.
func Open(ctx context.Context, cfg config.Config) (*Stores, error) {
	if cfg.StoreDriver == config.DriverMemory {
		return &Stores{Training: memory.NewStore(), Jobs: memory.NewJobStore()}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Stores{
		Training: postgres.NewStore(pool, cfg.Import.LockTimeout),
		Jobs:     postgres.NewJobStore(pool),
		Pool:     pool,
	}, nil
}

// Close releases the connection pool, if any.
func (s *Stores) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}
