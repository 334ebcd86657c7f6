package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the mirror's connection pool. Repositories never hold it; they read
// their querier from the context scope, so the pool surfaces only here, in
// the scope helpers, and at injection points.
type DB struct {
	*pgxpool.Pool
}

// Config tunes the pool for a batch sync pass. The dandiset loop runs
// per-document transactions sequentially; only the enrichment workers hit the
// pool concurrently, so the pool stays small and idle connections are
// released quickly between passes.
type Config struct {
	URL             string
	MaxConnections  int32
	MaxConnIdleTime time.Duration
}

const (
	// Enrichment workers plus headroom for the sequential sync loop.
	defaultMaxConnections = 8
	defaultConnIdleTime   = 2 * time.Minute
)

// NewConnection opens the pool and verifies the database is reachable before
// a sync pass starts.
func NewConnection(ctx context.Context, cfg *Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = defaultMaxConnections
	}
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime <= 0 {
		poolConfig.MaxConnIdleTime = defaultConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.Pool.Close()
}
