package state

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/change"
)

// Checkpoint is one mapping's durable progress marker
// (__puffgres_checkpoints, spec.md 6).
type Checkpoint struct {
	MappingName     string
	LSN             change.LSN
	EventsProcessed int64
	UpdatedAt       time.Time
}

// ReadCheckpoint returns the stored checkpoint for mappingName, or
// (zero, false) if the mapping has never been checkpointed.
func (s *Store) ReadCheckpoint(ctx context.Context, mappingName string) (Checkpoint, bool, error) {
	var cp Checkpoint
	var lsn int64
	err := s.pool.QueryRow(ctx, `
		SELECT mapping_name, lsn, events_processed, updated_at
		FROM __puffgres_checkpoints WHERE mapping_name = $1
	`, mappingName).Scan(&cp.MappingName, &lsn, &cp.EventsProcessed, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, errors.Wrap(err, "state: reading checkpoint")
	}
	cp.LSN = change.LSN(lsn)
	return cp, true, nil
}

// AdvanceCheckpoint implements the Checkpointer rule from spec.md 4.9
// in the common case where a batch produced no DLQ rows: it sets
// applied_lsn to the greater of its stored value and lsn without
// further checks, since the caller only invokes this after the writer
// reports durable success for every action.
func (s *Store) AdvanceCheckpoint(ctx context.Context, mappingName string, lsn change.LSN, eventsDelta int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO __puffgres_checkpoints (mapping_name, lsn, events_processed, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (mapping_name) DO UPDATE SET
			lsn = GREATEST(__puffgres_checkpoints.lsn, EXCLUDED.lsn),
			events_processed = __puffgres_checkpoints.events_processed + $3,
			updated_at = now()
	`, mappingName, int64(lsn), eventsDelta)
	if err != nil {
		return errors.Wrap(err, "state: advancing checkpoint")
	}
	return nil
}

// AdvanceCheckpointWithDLQ implements spec.md 4.9's rule precisely for
// a batch that produced DLQ entries: "the checkpointer advances
// applied_lsn for a mapping to max_lsn(batch) ONLY after the writer
// reports durable success for every action in the batch AND after any
// DLQ rows for that batch are persisted." Both writes happen in one
// transaction so a crash between them can never leave the checkpoint
// advanced without its DLQ rows durable, or vice versa.
func (s *Store) AdvanceCheckpointWithDLQ(ctx context.Context, mappingName string, lsn change.LSN, eventsDelta int64, entries []DLQEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "state: starting checkpoint+DLQ transaction")
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if err := insertDLQ(ctx, tx, e); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO __puffgres_checkpoints (mapping_name, lsn, events_processed, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (mapping_name) DO UPDATE SET
			lsn = GREATEST(__puffgres_checkpoints.lsn, EXCLUDED.lsn),
			events_processed = __puffgres_checkpoints.events_processed + $3,
			updated_at = now()
	`, mappingName, int64(lsn), eventsDelta); err != nil {
		return errors.Wrap(err, "state: advancing checkpoint")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "state: committing checkpoint+DLQ transaction")
	}
	return nil
}

// PendingDLQCount reports how many DLQ entries remain for mappingName,
// used to implement --strict's "a pending DLQ entry blocks checkpoint
// advance for that mapping" rule (spec.md 7) at the engine layer.
func (s *Store) PendingDLQCount(ctx context.Context, mappingName string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM __puffgres_dlq WHERE mapping_name = $1`, mappingName,
	).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "state: counting pending dlq entries")
	}
	return n, nil
}
