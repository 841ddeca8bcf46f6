// Package batch implements the per-namespace Batcher (spec.md 4.7):
// actions accumulate under size/count/age bounds, collapsing
// same-id writes last-write-wins while preserving input order, until
// a bound is reached or the engine requests a flush.
package batch

import (
	"encoding/json"
	"time"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/change"
)

// Bounds are the thresholds that close an open batch (spec.md 4.7).
type Bounds struct {
	MaxRows  int
	MaxBytes int
	MaxAge   time.Duration
}

// DefaultBounds returns the spec's stated defaults: 1000 rows, 4 MiB
// of serialized doc payload, 1000ms age.
func DefaultBounds() Bounds {
	return Bounds{MaxRows: 1000, MaxBytes: 4 * 1024 * 1024, MaxAge: time.Second}
}

// Batch is one closed group of actions ready for the Writer.
type Batch struct {
	Namespace string
	Actions   []action.Action
	MaxLSN    change.LSN
}

// Batcher accumulates actions for a single namespace. It is not
// safe for concurrent use; the engine runs one Batcher per mapping
// task, matching the spec's serial-per-mapping concurrency model
// (spec.md 5).
type Batcher struct {
	namespace string
	bounds    Bounds

	actions []action.Action
	sizes   []int
	index   map[string]int // action.ID.Raw -> index into actions/sizes
	bytes   int
	maxLSN  change.LSN
	opened  time.Time
}

// New constructs a Batcher for namespace under bounds.
func New(namespace string, bounds Bounds) *Batcher {
	return &Batcher{
		namespace: namespace,
		bounds:    bounds,
		index:     make(map[string]int),
	}
}

// Add appends a to the open batch, collapsing it with any earlier
// action for the same id (spec.md 4.7: "if two actions in one batch
// target the same id, the later action supersedes the earlier"). The
// surviving action keeps the position of the id's first appearance,
// so the batch's visible order matches the order ids were first seen
// rather than the order they were last updated -- this is the
// "preserve input order" half of the rule, adapted from
// internal/util/msort.UniqueByKey, which instead compacts survivors
// to the rear of the slice in last-seen order; that reordering is
// fine for msort's caller but would violate spec.md 4.7 here.
func (b *Batcher) Add(a action.Action) {
	b.maxLSN = change.Max(b.maxLSN, a.LSN)

	// Skip and PermanentFailure are not writes: skip means the
	// Transformer asked to leave the row untouched, and
	// PermanentFailure belongs in the DLQ, never the target (spec.md
	// 4.6). Only the LSN bookkeeping above applies to them, so the
	// checkpoint still advances past rows a caller routes through Add
	// without writing them.
	if a.Op == action.OpSkip || a.Op == action.OpPermanentFailure {
		return
	}

	size := docSize(a)

	if idx, ok := b.index[a.ID.Raw]; ok {
		b.bytes += size - b.sizes[idx]
		b.actions[idx] = a
		b.sizes[idx] = size
	} else {
		b.index[a.ID.Raw] = len(b.actions)
		b.actions = append(b.actions, a)
		b.sizes = append(b.sizes, size)
		b.bytes += size
		if len(b.actions) == 1 {
			b.opened = time.Now()
		}
	}
}

// ShouldFlush reports whether any bound has been reached.
func (b *Batcher) ShouldFlush() bool {
	if len(b.actions) == 0 {
		return false
	}
	if b.bounds.MaxRows > 0 && len(b.actions) >= b.bounds.MaxRows {
		return true
	}
	if b.bounds.MaxBytes > 0 && b.bytes >= b.bounds.MaxBytes {
		return true
	}
	if b.bounds.MaxAge > 0 && !b.opened.IsZero() && time.Since(b.opened) >= b.bounds.MaxAge {
		return true
	}
	return false
}

// OpenedAt returns when the current batch's first action was added,
// the zero Time if the batch is empty. The engine uses this to size
// its age-based flush timer.
func (b *Batcher) OpenedAt() time.Time {
	return b.opened
}

// Len reports the number of distinct ids currently held.
func (b *Batcher) Len() int { return len(b.actions) }

// Flush closes the current batch and resets the Batcher for the
// next one. Called when a bound is reached, on graceful shutdown, or
// at a checkpoint barrier (spec.md 4.7).
func (b *Batcher) Flush() Batch {
	out := Batch{Namespace: b.namespace, Actions: b.actions, MaxLSN: b.maxLSN}

	b.actions = nil
	b.sizes = nil
	b.index = make(map[string]int)
	b.bytes = 0
	b.maxLSN = change.LSNZero
	b.opened = time.Time{}

	return out
}

// docSize estimates the serialized byte size of a's doc payload for
// max_bytes accounting; delete and skip actions carry no doc.
func docSize(a action.Action) int {
	if a.Op != action.OpUpsert || a.Doc == nil {
		return 0
	}
	b, err := json.Marshal(a.Doc)
	if err != nil {
		return 0
	}
	return len(b)
}
