package state

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// RecordedTransformHash implements transform.Recorder, backed by
// __puffgres_transforms (spec.md 4.6, 6).
func (s *Store) RecordedTransformHash(ctx context.Context, mappingName string, version int) (string, bool, error) {
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT content_hash FROM __puffgres_transforms WHERE mapping_name = $1 AND version = $2`,
		mappingName, version,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "state: reading transform hash")
	}
	return hash, true, nil
}

// RecordTransform implements transform.Recorder.
func (s *Store) RecordTransform(ctx context.Context, mappingName string, version int, sourceText, hash string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO __puffgres_transforms (mapping_name, version, source, content_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (mapping_name, version) DO UPDATE SET source = EXCLUDED.source, content_hash = EXCLUDED.content_hash
	`, mappingName, version, sourceText, hash)
	if err != nil {
		return errors.Wrap(err, "state: recording applied transform")
	}
	return nil
}
