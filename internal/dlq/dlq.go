// Package dlq implements the DLQ manager (spec.md 4.11): list, show,
// retry, and clear operations over the state store's __puffgres_dlq
// table. Retry reconstructs the transform.Item a PermanentFailure was
// produced from and replays it through Transform->Batch->Write --
// "replays through the engine from the Transformer stage" -- rather
// than re-routing it, since membership was already decided the first
// time the row was processed.
package dlq

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/batch"
	"github.com/lucasgelfond/puffgres/internal/mapping"
	"github.com/lucasgelfond/puffgres/internal/state"
	"github.com/lucasgelfond/puffgres/internal/transform"
	"github.com/lucasgelfond/puffgres/internal/writer"
)

// defaultListLimit bounds an unqualified `dlq list` so an unbounded
// table scan never becomes the default CLI behavior.
const defaultListLimit = 100

// Store is the subset of *internal/state.Store the manager needs.
type Store interface {
	ListDLQ(ctx context.Context, mappingName string, limit int) ([]state.DLQEntry, error)
	GetDLQ(ctx context.Context, id int64) (state.DLQEntry, bool, error)
	IncrementRetry(ctx context.Context, id int64) error
	DeleteDLQ(ctx context.Context, id int64) error
	ClearDLQ(ctx context.Context, mappingName string, id *int64) error
}

// Manager implements the four DLQ operations from spec.md 4.11.
type Manager struct {
	Store       Store
	Registry    *mapping.Registry
	Transformer transform.Transformer
	// Invocation builds the InvocationContext a retried transform call
	// runs with; nil yields a zero-value context (fine for Identity).
	Invocation func(m *mapping.Mapping) transform.InvocationContext
	Writer     *writer.Writer
}

// List returns up to limit entries for mappingName ("" for every
// mapping), most recent first.
func (m *Manager) List(ctx context.Context, mappingName string, limit int) ([]state.DLQEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return m.Store.ListDLQ(ctx, mappingName, limit)
}

// Show returns a single entry by id.
func (m *Manager) Show(ctx context.Context, id int64) (state.DLQEntry, bool, error) {
	return m.Store.GetDLQ(ctx, id)
}

// Clear deletes entries: by id if id is non-nil, by mapping if
// mappingName is set, or every entry if neither is given.
func (m *Manager) Clear(ctx context.Context, mappingName string, id *int64) error {
	return m.Store.ClearDLQ(ctx, mappingName, id)
}

// RetryByID retries a single DLQ entry.
func (m *Manager) RetryByID(ctx context.Context, id int64) error {
	entry, found, err := m.Store.GetDLQ(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "dlq: reading entry %d", id)
	}
	if !found {
		return errors.Errorf("dlq: entry %d not found", id)
	}
	return m.retryEntry(ctx, entry)
}

// RetryByMapping retries every DLQ entry for mappingName, pacing
// between each entry's attempt with exponential backoff+jitter via
// cenkalti/backoff/v4 -- a separate concern from internal/writer's
// go-retryablehttp, which paces in-band HTTP retry within a single
// write call. It returns how many entries were successfully retried
// (and thus removed from the DLQ); entries that still fail stay in
// place with their retry_count incremented.
func (m *Manager) RetryByMapping(ctx context.Context, mappingName string) (int, error) {
	entries, err := m.Store.ListDLQ(ctx, mappingName, 1_000_000)
	if err != nil {
		return 0, errors.Wrapf(err, "dlq: listing entries for %s", mappingName)
	}

	retried := 0
	for _, e := range entries {
		bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
		err := backoff.Retry(func() error {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return m.retryEntry(ctx, e)
		}, backoff.WithContext(bo, ctx))
		if err == nil {
			retried++
		}
	}
	return retried, nil
}

func (m *Manager) retryEntry(ctx context.Context, e state.DLQEntry) error {
	target, ok := findMapping(m.Registry, e.MappingName)
	if !ok {
		return errors.Errorf("dlq: mapping %q is not currently applied", e.MappingName)
	}

	item, err := thawItem(e)
	if err != nil {
		_ = m.Store.IncrementRetry(ctx, e.ID)
		return err
	}

	ictx := transform.InvocationContext{MappingName: target.Name, Namespace: target.Target.Namespace, Relation: target.SourceRelation}
	if m.Invocation != nil {
		ictx = m.Invocation(target)
	}

	actions := transform.Invoke(ctx, m.Transformer, ictx, target, []transform.Item{item})

	b := batch.New(target.Target.Namespace, batch.DefaultBounds())
	for _, a := range actions {
		if a.Op == action.OpPermanentFailure {
			_ = m.Store.IncrementRetry(ctx, e.ID)
			msg := a.FailureMessage
			if msg == "" {
				msg = "transform permanently failed"
			}
			return errors.Errorf("dlq: retrying entry %d: %s", e.ID, msg)
		}
		b.Add(a)
	}
	bt := b.Flush()
	if len(bt.Actions) == 0 {
		return m.Store.DeleteDLQ(ctx, e.ID)
	}

	result, err := m.Writer.Write(ctx, bt)
	if err != nil {
		_ = m.Store.IncrementRetry(ctx, e.ID)
		return errors.Wrapf(err, "dlq: retrying entry %d", e.ID)
	}
	if len(result.Failed) > 0 {
		_ = m.Store.IncrementRetry(ctx, e.ID)
		msg := "retry failed"
		if result.Failed[0].Failure != nil {
			msg = result.Failed[0].Failure.Error()
		}
		return errors.Errorf("dlq: retrying entry %d: %s", e.ID, msg)
	}

	return m.Store.DeleteDLQ(ctx, e.ID)
}

func findMapping(reg *mapping.Registry, name string) (*mapping.Mapping, bool) {
	for _, m := range reg.All() {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}
