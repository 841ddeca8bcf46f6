// Package writer implements the Writer and anti-regression protocol
// (spec.md 4.8): translating a closed batch into conditional
// upserts/deletes against turbopuffer, classifying failures, and
// bisecting a batch when a validation failure can't be attributed to
// a single row without retrying.
package writer

import (
	"context"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/batch"
	"github.com/lucasgelfond/puffgres/internal/change"
)

// Class is the closed error-classification taxonomy from spec.md 4.8.
type Class int

const (
	// ClassTransient covers network resets, 429, 5xx, 408: retried
	// with exponential backoff+jitter.
	ClassTransient Class = iota
	// ClassConditionalMismatch means the target rejected the write
	// because its stored __source_lsn already dominates the
	// incoming one; treated as success (no-op).
	ClassConditionalMismatch
	// ClassValidation covers 4xx schema/type errors: the batch is
	// bisected to isolate the offending row(s).
	ClassValidation
	// ClassPermanent covers 401/403/404 and malformed requests: every
	// row in the affected unit goes to DLQ.
	ClassPermanent
)

// RowOutcome is the per-action result of a write attempt.
type RowOutcome struct {
	Action  action.Action
	Written bool // true for durable success and for conditional-mismatch no-ops
	Skipped bool // true only for conditional-mismatch (stale write, not an error)
	Failure *change.ClassifiedError
}

// Result is the outcome of writing one batch. Every action in the
// input batch appears in exactly one of Written or Failed (spec.md
// 4.8: "no partial-success ambiguity reaches the checkpointer").
type Result struct {
	Namespace string
	MaxLSN    change.LSN
	Written   []RowOutcome
	Failed    []RowOutcome
}

// AllResolved reports whether every action in the batch was either
// written or classified as a permanent failure -- the precondition
// the Checkpointer requires before it may advance applied_lsn
// (spec.md 4.9).
func (r Result) AllResolved(b batch.Batch) bool {
	return len(r.Written)+len(r.Failed) == len(b.Actions)
}

// Target is the conditional-write transport a Writer speaks to. A
// *TurbopufferClient is the only production implementation; the
// interface exists so internal/engine and tests can substitute a
// fake.
type Target interface {
	// Apply sends one batch's worth of conditional upserts/deletes and
	// returns the server's per-row classification. Any in-band retry
	// of transient failures happens inside Apply (TurbopufferClient
	// does it in its HTTP transport); Writer.Write does not retry, it
	// fails every row of a call whose error classifies as Transient.
	Apply(ctx context.Context, namespace string, actions []action.Action) ([]RowOutcome, error)
}
