package transform

import (
	"context"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/change"
	"github.com/lucasgelfond/puffgres/internal/mapping"
)

// Identity is the built-in transformer used by mappings with no
// registered transform (spec.md 4.6): it selects the mapping's
// columns from the current row and emits an upsert for insert/update
// or a delete for delete, with no executor round-trip.
type Identity struct{}

// Transform implements Transformer.
func (Identity) Transform(_ context.Context, _ InvocationContext, m *mapping.Mapping, items []Item) ([]action.Action, error) {
	out := make([]action.Action, len(items))
	attr := versionAttribute(m)
	for i, it := range items {
		c := it.Change
		if c.Op == change.OpDelete {
			out[i] = action.Delete(it.ID, attr, versionToken(m, c.Old, c.LSN), c.LSN)
			continue
		}

		row := c.Current()
		doc := make(map[string]change.Value, len(m.Columns))
		for _, col := range m.Columns {
			if v, ok := row.Get(col); ok {
				doc[col] = v
			}
		}
		out[i] = action.Upsert(it.ID, doc, attr, versionToken(m, row, c.LSN), c.LSN)
	}
	return out, nil
}

// versionToken delegates to mapping.VersionToken; kept as a package-
// local name since goja_executor.go calls it without qualification.
func versionToken(m *mapping.Mapping, row change.Row, lsn change.LSN) int64 {
	return mapping.VersionToken(m, row, lsn)
}

// versionAttribute delegates to mapping.VersionAttribute, mirroring
// versionToken's package-local naming.
func versionAttribute(m *mapping.Mapping) string {
	return mapping.VersionAttribute(m)
}
