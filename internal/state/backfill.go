package state

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// BackfillCursor is one mapping's backfill progress
// (__puffgres_backfill, spec.md 4.10, 6).
type BackfillCursor struct {
	MappingName   string
	LastID        string
	TotalRows     int64
	ProcessedRows int64
	Status        string
	UpdatedAt     time.Time
}

// Backfill status values (spec.md 4.10).
const (
	BackfillStatusPending = "pending"
	BackfillStatusRunning = "running"
	BackfillStatusDone    = "done"
)

// ReadBackfillCursor returns the persisted cursor for mappingName, or
// (zero, false) if no backfill has ever run for it.
func (s *Store) ReadBackfillCursor(ctx context.Context, mappingName string) (BackfillCursor, bool, error) {
	var c BackfillCursor
	err := s.pool.QueryRow(ctx, `
		SELECT mapping_name, last_id, total_rows, processed_rows, status, updated_at
		FROM __puffgres_backfill WHERE mapping_name = $1
	`, mappingName).Scan(&c.MappingName, &c.LastID, &c.TotalRows, &c.ProcessedRows, &c.Status, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return BackfillCursor{}, false, nil
	}
	if err != nil {
		return BackfillCursor{}, false, errors.Wrap(err, "state: reading backfill cursor")
	}
	return c, true, nil
}

// SaveBackfillCursor persists c, called after each page's writes
// succeed (spec.md 4.10: "cursor last_id is persisted after each
// page's writes succeed").
func (s *Store) SaveBackfillCursor(ctx context.Context, c BackfillCursor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO __puffgres_backfill (mapping_name, last_id, total_rows, processed_rows, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (mapping_name) DO UPDATE SET
			last_id = EXCLUDED.last_id,
			total_rows = EXCLUDED.total_rows,
			processed_rows = EXCLUDED.processed_rows,
			status = EXCLUDED.status,
			updated_at = now()
	`, c.MappingName, c.LastID, c.TotalRows, c.ProcessedRows, c.Status)
	if err != nil {
		return errors.Wrap(err, "state: saving backfill cursor")
	}
	return nil
}
