// File: internal/store/postgres.go

// Package store persists terminal session outcomes to Postgres. Persistence
// is best-effort from the session's point of view; a write failure never
// changes the session's terminal state.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vouch-cli/api/schemas"
)

// DBPool abstracts the pgx pool so tests can substitute a mock.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

const insertOutcomeSQL = `
INSERT INTO session_outcomes
    (session_id, identity, state, reason, artifact_ref, created_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Store writes session outcomes through a pgx connection pool.
type Store struct {
	pool   DBPool
	logger *zap.Logger
}

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Connected to outcome database.")
	return &Store{pool: pool, logger: logger.Named("store")}, nil
}

// NewWithPool wraps an existing pool. Used by tests.
func NewWithPool(pool DBPool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger.Named("store")}
}

// SaveOutcome records one terminal session outcome.
func (s *Store) SaveOutcome(ctx context.Context, o schemas.Outcome) error {
	_, err := s.pool.Exec(ctx, insertOutcomeSQL,
		o.SessionID,
		o.Identity,
		string(o.State),
		o.Reason,
		o.ArtifactRef,
		o.CreatedAt,
		o.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session outcome: %w", err)
	}
	s.logger.Debug("Session outcome persisted.",
		zap.String("session_id", o.SessionID),
		zap.String("state", string(o.State)))
	return nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
