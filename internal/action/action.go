// Package action defines the Transformer output contract (spec.md
// 4.6): the Upsert/Delete/Skip/PermanentFailure variants, and the id
// and version-token plumbing the Writer needs for anti-regression
// (spec.md 4.8).
package action

import (
	"encoding/json"

	"github.com/lucasgelfond/puffgres/internal/change"
)

// Op identifies which variant an Action carries.
type Op int

const (
	OpUpsert Op = iota
	OpDelete
	OpSkip
	// OpPermanentFailure is internal: it never reaches the Writer, but
	// is how the Transformer boundary reports a batch-level or
	// row-level failure back to the engine for DLQ routing.
	OpPermanentFailure
)

// ID is the target-namespace row identifier. Turbopuffer ids are
// either unsigned integers or strings (spec.md 3: id column type is
// one of uint, int, uuid, string); Raw stores the canonical string
// form used both as a map key and as the wire value.
type ID struct {
	Raw string
}

// NewID wraps a raw id string.
func NewID(raw string) ID { return ID{Raw: raw} }

// Action is one element of a Transformer's output vector, aligned by
// index with the input batch (spec.md 4.6: "input ordering equals
// output ordering; length equality is enforced").
type Action struct {
	Op Op

	// Upsert fields.
	ID             ID
	Doc            map[string]change.Value
	DistanceMetric string // optional, only meaningful for Upsert

	// VersionToken drives the writer's anti-regression conditional
	// write (spec.md 4.8): source_lsn by default, or the mapping's
	// configured version column.
	VersionToken int64

	// VersionAttribute names the target-namespace attribute the writer
	// stores and conditions VersionToken against -- __source_lsn by
	// default, or the mapping's configured version column (spec.md 3,
	// 4.8). Set via mapping.VersionAttribute so every producer of an
	// Action (identity transformer, goja executor, router's
	// synthetic-delete path) agrees with the Writer on which attribute
	// a given mapping compares.
	VersionAttribute string

	// LSN is carried alongside every action so the Batcher can compute
	// max_lsn even after last-write-wins collapse has discarded
	// earlier actions for the same id.
	LSN change.LSN

	// PermanentFailure fields.
	FailureKind    change.Kind
	FailureMessage string
	RawEvent       json.RawMessage
}

// Upsert constructs an OpUpsert Action.
func Upsert(id ID, doc map[string]change.Value, versionAttribute string, versionToken int64, lsn change.LSN) Action {
	return Action{Op: OpUpsert, ID: id, Doc: doc, VersionAttribute: versionAttribute, VersionToken: versionToken, LSN: lsn}
}

// Delete constructs an OpDelete Action.
func Delete(id ID, versionAttribute string, versionToken int64, lsn change.LSN) Action {
	return Action{Op: OpDelete, ID: id, VersionAttribute: versionAttribute, VersionToken: versionToken, LSN: lsn}
}

// Skip constructs an OpSkip Action.
func Skip(lsn change.LSN) Action {
	return Action{Op: OpSkip, LSN: lsn}
}

// PermanentFailure constructs an internal failure marker for one row.
func PermanentFailure(kind change.Kind, message string, raw json.RawMessage, lsn change.LSN) Action {
	return Action{
		Op:             OpPermanentFailure,
		FailureKind:    kind,
		FailureMessage: message,
		RawEvent:       raw,
		LSN:            lsn,
	}
}
