package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx operations repositories need. It is satisfied
// by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx, so the same repository code runs
// against the pool directly or inside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type contextKey string

// scopeKey is the context key for storing the scoped database querier.
const scopeKey contextKey = "dbScope"

// GetScope retrieves the scoped querier from context.
// Returns nil and false if not present.
func GetScope(ctx context.Context) (Querier, bool) {
	q, ok := ctx.Value(scopeKey).(Querier)
	return q, ok
}

// SetScope stores the scoped querier in context.
func SetScope(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, scopeKey, q)
}

// WithTx begins a transaction, places it in the context scope, runs fn, and
// commits on success or rolls back on error. This is the atomic unit for
// per-entity upserts: a failure inside fn discards that entity's partial
// writes without affecting the rest of the run.
func WithTx(ctx context.Context, db *DB, fn func(ctx context.Context) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(SetScope(ctx, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
