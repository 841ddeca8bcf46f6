package state

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/change"
)

// DLQEntry is one permanently-failed row (__puffgres_dlq, spec.md
// 4.11, 6).
type DLQEntry struct {
	ID           int64
	MappingName  string
	LSN          change.LSN
	EventJSON    json.RawMessage
	ErrorMessage string
	ErrorKind    change.Kind
	RetryCount   int
	CreatedAt    time.Time
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx, letting
// insertDLQ run either standalone or as part of
// Store.AdvanceCheckpointWithDLQ's transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func insertDLQ(ctx context.Context, q execer, e DLQEntry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO __puffgres_dlq (mapping_name, lsn, event_json, error_message, error_kind, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.MappingName, int64(e.LSN), e.EventJSON, e.ErrorMessage, e.ErrorKind.String(), e.RetryCount)
	if err != nil {
		return errors.Wrap(err, "state: appending dlq entry")
	}
	return nil
}

// AppendDLQ persists a single DLQ entry outside of a checkpoint
// transaction (used by backfill and by DLQ retry-failure paths that
// have no checkpoint advance to pair with).
func (s *Store) AppendDLQ(ctx context.Context, e DLQEntry) error {
	return insertDLQ(ctx, s.pool, e)
}

// ListDLQ returns DLQ entries for mappingName (or all mappings if
// empty), most recent first, up to limit.
func (s *Store) ListDLQ(ctx context.Context, mappingName string, limit int) ([]DLQEntry, error) {
	var rows pgx.Rows
	var err error
	if mappingName == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT id, mapping_name, lsn, event_json, error_message, error_kind, retry_count, created_at
			FROM __puffgres_dlq ORDER BY created_at DESC LIMIT $1
		`, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, mapping_name, lsn, event_json, error_message, error_kind, retry_count, created_at
			FROM __puffgres_dlq WHERE mapping_name = $1 ORDER BY created_at DESC LIMIT $2
		`, mappingName, limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "state: listing dlq entries")
	}
	defer rows.Close()

	var out []DLQEntry
	for rows.Next() {
		var e DLQEntry
		var lsn int64
		var kind string
		if err := rows.Scan(&e.ID, &e.MappingName, &lsn, &e.EventJSON, &e.ErrorMessage, &kind, &e.RetryCount, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "state: scanning dlq entry")
		}
		e.LSN = change.LSN(lsn)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetDLQ returns a single DLQ entry by id.
func (s *Store) GetDLQ(ctx context.Context, id int64) (DLQEntry, bool, error) {
	var e DLQEntry
	var lsn int64
	var kind string
	err := s.pool.QueryRow(ctx, `
		SELECT id, mapping_name, lsn, event_json, error_message, error_kind, retry_count, created_at
		FROM __puffgres_dlq WHERE id = $1
	`, id).Scan(&e.ID, &e.MappingName, &lsn, &e.EventJSON, &e.ErrorMessage, &kind, &e.RetryCount, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return DLQEntry{}, false, nil
	}
	if err != nil {
		return DLQEntry{}, false, errors.Wrap(err, "state: reading dlq entry")
	}
	e.LSN = change.LSN(lsn)
	for k := change.KindConfig; k <= change.KindState; k++ {
		if k.String() == kind {
			e.ErrorKind = k
		}
	}
	return e, true, nil
}

// IncrementRetry bumps retry_count for a DLQ entry (spec.md 4.11:
// "retry increments retry_count").
func (s *Store) IncrementRetry(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE __puffgres_dlq SET retry_count = retry_count + 1 WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "state: incrementing dlq retry count")
	}
	return nil
}

// DeleteDLQ removes a DLQ entry by id (spec.md 4.11: "a successful
// retry deletes the entry").
func (s *Store) DeleteDLQ(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM __puffgres_dlq WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "state: deleting dlq entry")
	}
	return nil
}

// ClearDLQ deletes DLQ entries: by mapping if mappingName is set, by
// id if id is non-nil, or all entries if neither is given.
func (s *Store) ClearDLQ(ctx context.Context, mappingName string, id *int64) error {
	var err error
	switch {
	case id != nil:
		_, err = s.pool.Exec(ctx, `DELETE FROM __puffgres_dlq WHERE id = $1`, *id)
	case mappingName != "":
		_, err = s.pool.Exec(ctx, `DELETE FROM __puffgres_dlq WHERE mapping_name = $1`, mappingName)
	default:
		_, err = s.pool.Exec(ctx, `DELETE FROM __puffgres_dlq`)
	}
	if err != nil {
		return errors.Wrap(err, "state: clearing dlq entries")
	}
	return nil
}
