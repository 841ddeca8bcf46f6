// Package change defines the shared event model the rest of the
// engine speaks: the Change produced by a source adapter, the Row
// view routers and predicates evaluate, and the closed error-Kind
// taxonomy from spec.md 7 (kept here, rather than its own package, to
// avoid an import cycle between internal/change and every component
// that needs to classify an error against a Change).
package change

import (
	"time"

	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/util/ident"
)

// Op identifies the kind of WAL operation a Change represents.
type Op int

const (
	OpInsert Op = iota
	OpUpdate
	OpDelete
)

// String implements fmt.Stringer.
func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Row is a column-name -> Value view over one side of a Change. It is
// what the predicate evaluator and transformer operate on.
type Row map[string]Value

// Get returns the value for col, or a null Value and false if the
// column is absent from the row (distinct from a column holding an
// explicit SQL NULL).
func (r Row) Get(col string) (Value, bool) {
	v, ok := r[col]
	return v, ok
}

// Change is a single decoded WAL event for one source relation.
type Change struct {
	Op       Op
	Schema   string
	Relation string

	// New holds the post-image; populated for insert/update.
	New Row
	// Old holds the pre-image; populated for update (if replica
	// identity includes changed columns) and delete. At minimum it
	// contains the primary-key columns.
	Old Row

	// LSN is strictly increasing and unique within a replication
	// slot. Backfill-synthesized changes use LSNZero.
	LSN LSN

	// Txid and CommitTime are optional observability fields; they are
	// never used for ordering or idempotence decisions.
	Txid       uint64
	CommitTime time.Time
}

// Table returns the (schema, relation) pair as an ident.Table for use
// as a router lookup key.
func (c Change) Table() ident.Table {
	return ident.NewTableName(c.Schema, c.Relation)
}

// Current returns the row view appropriate to the Change's
// operation: New for insert/update, Old for delete. This is the
// "insert -> new, delete -> old, update -> new with old available"
// rule from spec.md 4.2.
func (c Change) Current() Row {
	if c.Op == OpDelete {
		return c.Old
	}
	return c.New
}

// Kind is the closed error-classification taxonomy from spec.md 7.
type Kind int

const (
	KindConfig Kind = iota
	KindSchemaMismatch
	KindSourceTransient
	KindSourceFatal
	KindTransform
	KindTargetTransient
	KindTargetValidation
	KindTargetPermanent
	KindState
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "Config"
	case KindSchemaMismatch:
		return "SchemaMismatch"
	case KindSourceTransient:
		return "SourceTransient"
	case KindSourceFatal:
		return "SourceFatal"
	case KindTransform:
		return "Transform"
	case KindTargetTransient:
		return "TargetTransient"
	case KindTargetValidation:
		return "TargetValidation"
	case KindTargetPermanent:
		return "TargetPermanent"
	case KindState:
		return "State"
	default:
		return "Unknown"
	}
}

// Fatal reports whether errors of this Kind halt the engine outright
// (spec.md 7: Config, SchemaMismatch, State, SourceFatal).
func (k Kind) Fatal() bool {
	switch k {
	case KindConfig, KindSchemaMismatch, KindState, KindSourceFatal:
		return true
	default:
		return false
	}
}

// ClassifiedError pairs an error with its Kind and the mapping/LSN
// context needed to render the user-visible failure message required
// by spec.md 7 ("mapping name, LSN, error kind, first 200 bytes of
// payload").
type ClassifiedError struct {
	Kind    Kind
	Mapping string
	LSN     LSN
	Payload []byte
	cause   error
}

// NewClassifiedError wraps cause with classification context.
func NewClassifiedError(kind Kind, mapping string, lsn LSN, payload []byte, cause error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Mapping: mapping, LSN: lsn, Payload: payload, cause: errors.WithStack(cause)}
}

// Error implements the error interface, truncating the payload to the
// first 200 bytes per spec.md 7.
func (e *ClassifiedError) Error() string {
	payload := e.Payload
	if len(payload) > 200 {
		payload = payload[:200]
	}
	return errors.Wrapf(e.cause, "mapping=%s lsn=%s kind=%s payload=%s",
		e.Mapping, e.LSN, e.Kind, payload).Error()
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ClassifiedError) Unwrap() error { return e.cause }
