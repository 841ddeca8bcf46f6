// Package ident provides case-preserving identifiers for referring to
// schemas, tables, and columns in the source database.
package ident

import (
	"strings"

	"github.com/pkg/errors"
)

// Ident is a single, case-preserving SQL identifier.
type Ident struct {
	raw string
}

// New wraps a raw identifier string.
func New(raw string) Ident { return Ident{raw: raw} }

// Raw returns the identifier exactly as supplied.
func (i Ident) Raw() string { return i.raw }

// String implements fmt.Stringer.
func (i Ident) String() string { return i.raw }

// Empty reports whether the identifier has no name.
func (i Ident) Empty() bool { return i.raw == "" }

// Equal performs a case-insensitive comparison, matching Postgres's
// default unquoted-identifier folding behavior.
func (i Ident) Equal(o Ident) bool {
	return strings.EqualFold(i.raw, o.raw)
}

// Schema identifies a namespace within the source database.
type Schema struct {
	name Ident
}

// NewSchema wraps a raw schema name.
func NewSchema(name string) Schema { return Schema{name: New(name)} }

// Schema returns the schema's own identifier.
func (s Schema) Schema() Ident { return s.name }

// Raw returns the schema name.
func (s Schema) Raw() string { return s.name.raw }

// Empty reports whether the schema is unset.
func (s Schema) Empty() bool { return s.name.Empty() }

// ParseSchema parses a possibly-qualified schema reference. Only a
// single, unqualified component is supported; a dotted name is
// rejected since puffgres mappings always address schema and relation
// as separate fields.
func ParseSchema(raw string) (Schema, error) {
	if strings.Contains(raw, ".") {
		return Schema{}, errors.Errorf("schema name %q must not be qualified", raw)
	}
	if raw == "" {
		return Schema{}, errors.New("empty schema name")
	}
	return NewSchema(raw), nil
}

// Table identifies a relation within a schema.
type Table struct {
	schema Schema
	table  Ident
}

// NewTable constructs a Table reference.
func NewTable(schema Schema, table Ident) Table {
	return Table{schema: schema, table: table}
}

// NewTableName constructs a Table reference from raw strings.
func NewTableName(schema, table string) Table {
	return NewTable(NewSchema(schema), New(table))
}

// Schema returns the enclosing schema.
func (t Table) Schema() Schema { return t.schema }

// Table returns the relation's own identifier.
func (t Table) Table() Ident { return t.table }

// Raw returns "schema.table".
func (t Table) Raw() string {
	return t.schema.Raw() + "." + t.table.Raw()
}

// String implements fmt.Stringer.
func (t Table) String() string { return t.Raw() }

// Equal performs a case-insensitive comparison of both components.
func (t Table) Equal(o Table) bool {
	return t.schema.name.Equal(o.schema.name) && t.table.Equal(o.table)
}

// Empty reports whether the table reference is unset.
func (t Table) Empty() bool { return t.schema.Empty() && t.table.Empty() }

// TableMap is a simple ordered map keyed by Table, preserving
// insertion order for deterministic iteration (mirrors the teacher's
// ident.TableMap usage in fan-out contexts).
type TableMap[V any] struct {
	keys []Table
	vals map[Table]V
}

// Put stores a value, appending the key to the order the first time
// it is seen.
func (m *TableMap[V]) Put(t Table, v V) {
	if m.vals == nil {
		m.vals = make(map[Table]V)
	}
	if _, ok := m.vals[t]; !ok {
		m.keys = append(m.keys, t)
	}
	m.vals[t] = v
}

// Get returns the value and whether it was present.
func (m *TableMap[V]) Get(t Table) (V, bool) {
	v, ok := m.vals[t]
	return v, ok
}

// GetZero returns the value, or the zero value of V if absent.
func (m *TableMap[V]) GetZero(t Table) V {
	return m.vals[t]
}

// Range iterates entries in insertion order. Iteration stops early if
// fn returns a non-nil error, which Range then returns.
func (m *TableMap[V]) Range(fn func(Table, V) error) error {
	for _, k := range m.keys {
		if err := fn(k, m.vals[k]); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored entries.
func (m *TableMap[V]) Len() int { return len(m.keys) }
