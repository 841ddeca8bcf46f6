// Package mapping defines the immutable Mapping declaration (spec.md
// 3) binding one source relation to one turbopuffer namespace, its
// TOML file format (spec.md 6), and the canonical-hash apply-time
// check (spec.md 4.3).
package mapping

import (
	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/predicate"
)

// MembershipMode selects how row membership is decided (spec.md 3).
type MembershipMode int

const (
	// MembershipAll always includes every row.
	MembershipAll MembershipMode = iota
	// MembershipDSL evaluates the predicate DSL.
	MembershipDSL
	// MembershipView means the source relation already pre-filters;
	// membership is always true.
	MembershipView
	// MembershipLookup re-reads the current row by primary key before
	// evaluating membership.
	MembershipLookup
)

// IDType is the closed set of supported id column types (spec.md 3).
type IDType int

const (
	IDTypeUint IDType = iota
	IDTypeInt
	IDTypeUUID
	IDTypeString
)

// VersioningMode selects the attribute the writer compares for
// anti-regression (spec.md 3, 4.8).
type VersioningMode int

const (
	// VersioningSourceLSN uses the change's own LSN as the version
	// token (the default, and the only mode valid for backfill rows).
	VersioningSourceLSN VersioningMode = iota
	// VersioningColumn uses a user-named column's integer value.
	VersioningColumn
)

// ID describes the mapping's identifier column.
type ID struct {
	Column string
	Type   IDType
}

// Versioning describes how the writer picks a version token.
type Versioning struct {
	Mode   VersioningMode
	Column string // only meaningful when Mode == VersioningColumn
}

// Target names the destination turbopuffer namespace.
type Target struct {
	Namespace string
}

// Membership holds the parsed predicate, if any, alongside its mode.
type Membership struct {
	Mode MembershipMode
	// Expr is the parsed predicate AST, present only when Mode ==
	// MembershipDSL.
	Expr predicate.Expr
	// Raw is the original DSL text, retained for canonicalization.
	Raw string
}

// Mapping is the canonical, immutable (per name+version) binding from
// a source relation to a turbopuffer namespace (spec.md 3).
type Mapping struct {
	Name    string
	Version int

	SourceSchema   string
	SourceRelation string

	ID      ID
	Columns []string

	Membership Membership

	// Transform is an opaque handle to the user transform registered
	// for this mapping; nil means the built-in identity transformer.
	Transform *TransformRef

	Target Target

	Versioning Versioning

	// ContentHash is computed at apply time over the canonical
	// serialization (internal/mapping/canonical.go) and recorded in
	// the state store.
	ContentHash string
}

// TransformRef names the user transform source registered for a
// mapping version.
type TransformRef struct {
	SourceText string
}

// Validate checks structural invariants that don't require the state
// store (uniqueness of (name, version) and content-hash drift are
// checked by Registry.Apply instead).
func (m *Mapping) Validate() error {
	if m.Name == "" {
		return errors.New("mapping: name is required")
	}
	if m.Version <= 0 {
		return errors.New("mapping: version must be a positive integer")
	}
	if m.SourceSchema == "" || m.SourceRelation == "" {
		return errors.New("mapping: source.schema and source.relation are required")
	}
	if m.ID.Column == "" {
		return errors.New("mapping: id.column is required")
	}
	if m.Target.Namespace == "" {
		return errors.New("mapping: target.namespace is required")
	}
	if m.Membership.Mode == MembershipDSL && m.Membership.Expr == nil {
		return errors.New("mapping: membership.dsl requires a non-empty expr")
	}
	if m.Versioning.Mode == VersioningColumn && m.Versioning.Column == "" {
		return errors.New("mapping: versioning.column is required when mode=column")
	}
	return nil
}
