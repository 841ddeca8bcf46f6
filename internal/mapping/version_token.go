package mapping

import "github.com/lucasgelfond/puffgres/internal/change"

// DefaultVersionAttribute is the reserved turbopuffer attribute name
// used as the anti-regression version token unless a mapping names
// its own column (spec.md 3, 4.8, 6).
const DefaultVersionAttribute = "__source_lsn"

// VersionToken picks the writer's anti-regression comparison value
// for one row (spec.md 3, 4.8): the change's own LSN by default, or a
// user-configured integer column's value. Exported so both the
// built-in identity transformer and the router's synthetic-delete
// path (which never invokes a Transformer) compute it identically.
func VersionToken(m *Mapping, row change.Row, lsn change.LSN) int64 {
	if m.Versioning.Mode != VersioningColumn {
		return int64(lsn)
	}
	v, ok := row.Get(m.Versioning.Column)
	if !ok {
		return int64(lsn)
	}
	if i, ok := v.AsInt(); ok {
		return i
	}
	if f, ok := v.AsFloat(); ok {
		return int64(f)
	}
	return int64(lsn)
}

// VersionAttribute names the target-namespace attribute the writer
// stores and conditions on for m: the mapping's configured version
// column when Versioning.Mode is VersioningColumn, else the reserved
// __source_lsn attribute (spec.md 3: "versioning.mode = source_lsn,
// column(name)"; spec.md 4.8: "stores an attribute __source_lsn (or
// the user's version column)"). Exported for the same reason
// VersionToken is: the identity transformer, goja executor, and
// router's synthetic-delete path all need to agree on which attribute
// a given mapping's conditional writes use.
func VersionAttribute(m *Mapping) string {
	if m.Versioning.Mode == VersioningColumn && m.Versioning.Column != "" {
		return m.Versioning.Column
	}
	return DefaultVersionAttribute
}
