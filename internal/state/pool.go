// Package state implements the Checkpointer and process-wide state
// store (spec.md 4.9, 6): a fixed set of reserved tables
// (prefix __puffgres_) living in the same Postgres database the
// source reads from, so its updates ride the same failure domain as
// the WAL itself.
package state

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lucasgelfond/puffgres/internal/util/stopper"
)

// Store wraps a pgx connection pool against the source database's
// reserved schema.
type Store struct {
	pool *pgxpool.Pool
}

// Open establishes the pool and blocks until the database answers a
// ping, retrying on startup errors -- the same "ping-retry-loop owned
// by a stopper.Context task" shape as
// internal/util/stdpool.OpenMySQLAsTarget, adapted from database/sql
// to pgxpool and from MySQL to Postgres.
func Open(ctx *stopper.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "state: parsing connection string")
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "state: opening pool")
	}

	ctx.Go(func() error {
		<-ctx.Stopping()
		pool.Close()
		return nil
	})

	for {
		pingErr := pool.Ping(ctx)
		if pingErr == nil {
			break
		}
		log.WithError(pingErr).Info("state: waiting for database to become ready")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	return &Store{pool: pool}, nil
}

// EnsureSchema creates the reserved __puffgres_* tables if they don't
// already exist (spec.md 6).
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "state: applying schema statement %q", stmt)
		}
	}
	return nil
}

// Close releases the pool outside of stopper-driven shutdown (tests,
// short-lived CLI invocations).
func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports whether the state store is currently reachable. It
// backs the "state-store unreachable" fatal check in spec.md 4.11 and
// the engine's diag.Diagnostics health check (internal/engine).
func (s *Store) Ping(ctx context.Context) error {
	return errors.Wrap(s.pool.Ping(ctx), "state: ping")
}
