package state

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// RecordedHash implements mapping.Recorder, backed by
// __puffgres_migrations (spec.md 4.3, 6).
func (s *Store) RecordedHash(ctx context.Context, name string, version int) (string, bool, error) {
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT content_hash FROM __puffgres_migrations WHERE mapping_name = $1 AND version = $2`,
		name, version,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "state: reading migration hash")
	}
	return hash, true, nil
}

// Record implements mapping.Recorder.
func (s *Store) Record(ctx context.Context, name string, version int, hash string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO __puffgres_migrations (version, mapping_name, content_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (version, mapping_name) DO UPDATE SET content_hash = EXCLUDED.content_hash, applied_at = now()
	`, version, name, hash)
	if err != nil {
		return errors.Wrap(err, "state: recording applied mapping")
	}
	return nil
}
