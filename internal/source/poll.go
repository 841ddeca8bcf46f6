package source

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/change"
)

// DefaultPollInterval is the poll_interval_ms default (spec.md 6).
const DefaultPollInterval = time.Second

// PollSource is the poll adapter (spec.md 4.4): it periodically
// issues pg_logical_slot_get_changes against a replication slot over
// a plain *pgxpool.Pool and decodes the wal2json v2 frames it
// returns. It requires no special connection mode, unlike
// StreamSource, at the cost of up to one poll interval of added
// latency.
type PollSource struct {
	pool         *pgxpool.Pool
	slot         string
	pollInterval time.Duration

	lastErr error
}

// NewPollSource returns a PollSource reading slot over pool at
// pollInterval (DefaultPollInterval if zero).
func NewPollSource(pool *pgxpool.Pool, slot string, pollInterval time.Duration) *PollSource {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &PollSource{pool: pool, slot: slot, pollInterval: pollInterval}
}

// EnsureSlot implements Source.
func (p *PollSource) EnsureSlot(ctx context.Context, create bool) error {
	return ensureSlot(ctx, p.pool, p.slot, create)
}

func ensureSlot(ctx context.Context, pool *pgxpool.Pool, slot string, create bool) error {
	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM pg_replication_slots WHERE slot_name = $1)`, slot,
	).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "source: checking replication slot")
	}
	if exists {
		return nil
	}
	if !create {
		return errors.Errorf("source: replication slot %q does not exist (pass --create-slot to create it)", slot)
	}
	_, err = pool.Exec(ctx, `SELECT pg_create_logical_replication_slot($1, 'wal2json')`, slot)
	if err != nil {
		return errors.Wrapf(err, "source: creating replication slot %q", slot)
	}
	return nil
}

// Changes implements Source. The returned channel is fed by a
// background goroutine that polls until ctx is done or a query
// fails; a query failure is fatal (spec.md 7, SourceFatal/
// SourceTransient: the caller classifies via Err after the channel
// closes).
func (p *PollSource) Changes(ctx context.Context, fromLSN change.LSN) (<-chan change.Change, error) {
	out := make(chan change.Change, 256)
	go p.pollLoop(ctx, out)
	return out, nil
}

func (p *PollSource) pollLoop(ctx context.Context, out chan<- change.Change) {
	defer close(out)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := p.pollOnce(ctx, out); err != nil {
			p.lastErr = err
			return
		}
	}
}

// pollOnce drains one batch of pending changes from the slot. It uses
// pg_logical_slot_get_changes rather than _peek, so each row returned
// here has already advanced the slot's internal read position; Ack
// separately advances the slot's confirmed (reclaimable) position via
// pg_replication_slot_advance once the checkpointer durably records
// the LSN.
func (p *PollSource) pollOnce(ctx context.Context, out chan<- change.Change) error {
	rows, err := p.pool.Query(ctx, `
		SELECT lsn, xid, data FROM pg_logical_slot_get_changes($1, NULL, NULL,
			'format-version', '2', 'include-xids', '1', 'include-transaction', '1')
	`, p.slot)
	if err != nil {
		return classifySlotError(p.slot, change.LSNZero, errors.Wrap(err, "source: polling replication slot"))
	}
	defer rows.Close()

	var pendingXid uint64
	for rows.Next() {
		var lsnStr string
		var xid uint64
		var data []byte
		if err := rows.Scan(&lsnStr, &xid, &data); err != nil {
			return errors.Wrap(err, "source: scanning replication slot row")
		}

		lsn, err := change.ParseLSN(lsnStr)
		if err != nil {
			return errors.Wrap(err, "source: parsing lsn")
		}

		f, err := decodeFrame(data)
		if err != nil {
			return err
		}

		switch f.Action {
		case "B":
			pendingXid = xid
			continue
		case "C":
			continue
		default:
			c, err := rowToChange(f, lsn, pendingXid, time.Time{})
			if err != nil {
				return err
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return nil
			}
		}
	}
	return rows.Err()
}

// Ack implements Source, advancing the slot's confirmed position so
// Postgres can reclaim WAL below lsn.
func (p *PollSource) Ack(ctx context.Context, lsn change.LSN) error {
	_, err := p.pool.Exec(ctx, `SELECT pg_replication_slot_advance($1, $2::pg_lsn)`, p.slot, lsn.String())
	if err != nil {
		return errors.Wrap(err, "source: advancing replication slot")
	}
	return nil
}

// Err implements Source.
func (p *PollSource) Err() error { return p.lastErr }
