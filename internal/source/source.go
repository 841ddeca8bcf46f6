// Package source adapts a Postgres logical replication slot into a
// change.Change stream. It offers two adapters over the same wal2json
// v2 wire format: PollSource, which issues
// pg_logical_slot_get_changes on a timer over a plain
// *pgxpool.Pool, and StreamSource, which opens a dedicated replication
// connection via github.com/jackc/pglogrepl and exchanges explicit
// standby-status updates. Callers pick one at startup; both satisfy
// Source.
package source

import (
	"context"
	"strings"

	"github.com/lucasgelfond/puffgres/internal/change"
)

// Source produces a lazy, non-restartable stream of changes in strict
// LSN order starting at fromLSN, and acknowledges a durably-processed
// LSN back to Postgres so the slot's retained WAL can be reclaimed.
type Source interface {
	// Changes starts the stream and returns a channel of decoded
	// changes. The channel closes when ctx is done or the source hits
	// a fatal error, retrievable afterward via Err.
	Changes(ctx context.Context, fromLSN change.LSN) (<-chan change.Change, error)

	// Ack reports that lsn has been durably checkpointed, letting the
	// source advance its confirmed position.
	Ack(ctx context.Context, lsn change.LSN) error

	// EnsureSlot verifies the replication slot exists, creating it
	// first if create is true (run --create-slot).
	EnsureSlot(ctx context.Context, create bool) error

	// Err returns the first fatal error the source encountered after
	// Changes' channel closes, or nil if it closed because ctx ended.
	Err() error
}

// classifySlotError recognizes Postgres's "replication slot ... is
// active for PID ..." error -- the signal a second instance has
// attached to the same slot a live instance already holds -- and
// tags it change.KindSourceFatal (spec.md 5: a second instance on one
// slot "MUST be detected (slot busy -> fatal)"). There is no separate
// leasing/singleton bookkeeping: Postgres itself refuses a concurrent
// logical-decoding session on one slot, so detection is this error
// match rather than an independent coordination mechanism. Any other
// source error is left unclassified for the caller to wrap as it sees
// fit.
func classifySlotError(mapping string, lsn change.LSN, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "is active for PID") {
		return change.NewClassifiedError(change.KindSourceFatal, mapping, lsn, nil, err)
	}
	return err
}
