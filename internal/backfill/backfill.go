// Package backfill implements the keyset-pagination backfill engine
// (spec.md 4.10): it scans one mapping's source relation ordered
// ascending by id in pages of batch_size rows, turns each row into a
// synthetic insert change.Change with LSN=0 (change.LSNZero), and
// drives it through the same Router->Transformer->Batcher->Writer
// pipeline live CDC uses. Because the Writer's conditional write
// compares __source_lsn, any real CDC write for a row always
// supersedes a backfill write for the same row, whichever arrives
// second.
package backfill

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/batch"
	"github.com/lucasgelfond/puffgres/internal/change"
	"github.com/lucasgelfond/puffgres/internal/dlq"
	"github.com/lucasgelfond/puffgres/internal/mapping"
	"github.com/lucasgelfond/puffgres/internal/router"
	"github.com/lucasgelfond/puffgres/internal/state"
	"github.com/lucasgelfond/puffgres/internal/transform"
	"github.com/lucasgelfond/puffgres/internal/util/notify"
	"github.com/lucasgelfond/puffgres/internal/writer"
)

// DefaultBatchSize is backfill's batch_size default (spec.md 6).
const DefaultBatchSize = 1000

// PageReader reads one ascending-by-id page of a mapping's source
// relation. afterID is the canonical id string (action.ID.Raw) of
// the last row already processed, or "" for the first page.
type PageReader interface {
	FetchPage(ctx context.Context, schema, relation, idColumn, afterID string, limit int) ([]change.Row, error)
}

// Cursors persists backfill progress and DLQ entries; satisfied by
// *internal/state.Store.
type Cursors interface {
	ReadBackfillCursor(ctx context.Context, mappingName string) (state.BackfillCursor, bool, error)
	SaveBackfillCursor(ctx context.Context, c state.BackfillCursor) error
	AppendDLQ(ctx context.Context, e state.DLQEntry) error
}

// Engine backfills a single mapping.
type Engine struct {
	Reader      PageReader
	Cursors     Cursors
	Router      *router.Router
	Transformer transform.Transformer
	Invocation  transform.InvocationContext
	Writer      *writer.Writer
	BatchSize   int

	// Progress, if non-nil, is set to the cursor's state after every
	// page so a caller (the `backfill` CLI command) can print live
	// progress by blocking on the wakeup channel Get returns instead of
	// polling the state store. Grounded on the teacher's
	// notify.Var[hlc.Time] watch-for-change pattern, generalized from a
	// resolved timestamp to a backfill cursor.
	Progress *notify.Var[state.BackfillCursor]
}

// Run backfills m. When resume is true and a non-done cursor exists,
// it continues from the recorded last_id (spec.md 4.10's --resume);
// otherwise it restarts from the beginning of the relation.
func (e *Engine) Run(ctx context.Context, m *mapping.Mapping, resume bool) error {
	batchSize := e.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	cursor := state.BackfillCursor{MappingName: m.Name, Status: state.BackfillStatusRunning}
	afterID := ""

	if resume {
		existing, found, err := e.Cursors.ReadBackfillCursor(ctx, m.Name)
		if err != nil {
			return errors.Wrapf(err, "backfill %s: reading cursor", m.Name)
		}
		if found && existing.Status != state.BackfillStatusDone {
			cursor = existing
			cursor.Status = state.BackfillStatusRunning
			afterID = existing.LastID
		}
	}

	b := batch.New(m.Target.Namespace, batch.DefaultBounds())
	e.publish(cursor)

	for {
		rows, err := e.Reader.FetchPage(ctx, m.SourceSchema, m.SourceRelation, m.ID.Column, afterID, batchSize)
		if err != nil {
			return errors.Wrapf(err, "backfill %s: fetching page", m.Name)
		}
		if len(rows) == 0 {
			break
		}

		lastID, err := e.processPage(ctx, m, rows, b)
		if err != nil {
			return err
		}
		afterID = lastID

		if b.Len() > 0 {
			if err := e.flush(ctx, m, b); err != nil {
				return err
			}
		}

		cursor.LastID = lastID
		cursor.ProcessedRows += int64(len(rows))
		if err := e.Cursors.SaveBackfillCursor(ctx, cursor); err != nil {
			return errors.Wrapf(err, "backfill %s: saving cursor", m.Name)
		}
		e.publish(cursor)

		if len(rows) < batchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if b.Len() > 0 {
		if err := e.flush(ctx, m, b); err != nil {
			return err
		}
	}

	cursor.Status = state.BackfillStatusDone
	if err := e.Cursors.SaveBackfillCursor(ctx, cursor); err != nil {
		return err
	}
	e.publish(cursor)
	return nil
}

func (e *Engine) publish(c state.BackfillCursor) {
	if e.Progress != nil {
		e.Progress.Set(c)
	}
}

// processPage routes and transforms one page's rows, adding the
// resulting actions to b, and returns the canonical id of the page's
// last row -- the next page's afterID regardless of whether that
// particular row passed membership, since the cursor must advance
// past every row the page reader returned.
func (e *Engine) processPage(ctx context.Context, m *mapping.Mapping, rows []change.Row, b *batch.Batcher) (string, error) {
	var items []transform.Item

	for _, row := range rows {
		c := change.Change{
			Op:       change.OpInsert,
			Schema:   m.SourceSchema,
			Relation: m.SourceRelation,
			New:      row,
			LSN:      change.LSNZero,
		}

		routed, err := e.Router.Dispatch(ctx, c)
		if err != nil {
			return "", errors.Wrapf(err, "backfill %s: routing", m.Name)
		}
		for _, r := range routed {
			if r.Mapping != m || r.Kind != router.KindTransform {
				continue
			}
			id, err := mapping.ExtractID(m, row)
			if err != nil {
				return "", errors.Wrapf(err, "backfill %s", m.Name)
			}
			items = append(items, transform.Item{Change: c, ID: id})
		}
	}

	if len(items) > 0 {
		actions := transform.Invoke(ctx, e.Transformer, e.Invocation, m, items)
		for i, a := range actions {
			if a.Op != action.OpPermanentFailure {
				b.Add(a)
				continue
			}
			if err := e.deadLetterTransform(ctx, m, items[i], a); err != nil {
				return "", err
			}
		}
	}

	if b.ShouldFlush() {
		if err := e.flush(ctx, m, b); err != nil {
			return "", err
		}
	}

	last := rows[len(rows)-1]
	lastID, err := mapping.ExtractID(m, last)
	if err != nil {
		return "", errors.Wrapf(err, "backfill %s: last row id", m.Name)
	}
	return lastID.Raw, nil
}

func (e *Engine) flush(ctx context.Context, m *mapping.Mapping, b *batch.Batcher) error {
	bt := b.Flush()
	if len(bt.Actions) == 0 {
		return nil
	}

	result, err := e.Writer.Write(ctx, bt)
	if err != nil {
		return errors.Wrapf(err, "backfill %s: writing batch", m.Name)
	}
	for _, fo := range result.Failed {
		if err := e.deadLetter(ctx, m, fo); err != nil {
			return err
		}
	}
	return nil
}

// deadLetterTransform persists a row the Transformer permanently
// failed on, freezing the originating Item the same way
// runner.flushTransform does so the row can be retried later, rather
// than letting a zero-value OpPermanentFailure action reach the
// Batcher (spec.md 4.6, 4.10).
func (e *Engine) deadLetterTransform(ctx context.Context, m *mapping.Mapping, it transform.Item, a action.Action) error {
	raw, err := dlq.Freeze(it)
	if err != nil {
		log.WithError(err).WithField("mapping", m.Name).Error("backfill: freezing permanently-failed item")
	}
	return e.Cursors.AppendDLQ(ctx, state.DLQEntry{
		MappingName:  m.Name,
		LSN:          a.LSN,
		EventJSON:    raw,
		ErrorMessage: a.FailureMessage,
		ErrorKind:    a.FailureKind,
	})
}

// deadLetter persists a failed row to the DLQ (spec.md 4.10: "backfill
// failures go to DLQ with the same taxonomy"). Backfill has no
// checkpoint to pair the DLQ write with -- its progress marker is the
// backfill cursor, saved separately once the whole page is settled.
func (e *Engine) deadLetter(ctx context.Context, m *mapping.Mapping, fo writer.RowOutcome) error {
	kind := change.KindTargetPermanent
	message := "backfill write failed"
	var raw json.RawMessage
	if fo.Failure != nil {
		kind = fo.Failure.Kind
		message = fo.Failure.Error()
	}
	return e.Cursors.AppendDLQ(ctx, state.DLQEntry{
		MappingName:  m.Name,
		LSN:          change.LSNZero,
		EventJSON:    raw,
		ErrorMessage: message,
		ErrorKind:    kind,
	})
}
