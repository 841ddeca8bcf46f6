package mapping

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/change"
)

// ExtractID pulls the mapping's id column out of row and renders it
// as the canonical action.ID the target namespace expects, validating
// that the stored value's kind is compatible with the mapping's
// declared id.type (spec.md 3: id = (column, type)).
func ExtractID(m *Mapping, row change.Row) (action.ID, error) {
	v, ok := row.Get(m.ID.Column)
	if !ok || v.IsNull() {
		return action.ID{}, errors.Errorf("mapping %s: id column %q missing or null", m.Name, m.ID.Column)
	}

	switch m.ID.Type {
	case IDTypeUint, IDTypeInt:
		if i, ok := v.AsInt(); ok {
			return action.NewID(strconv.FormatInt(i, 10)), nil
		}
		if f, ok := v.AsFloat(); ok {
			return action.NewID(strconv.FormatInt(int64(f), 10)), nil
		}
		return action.ID{}, errors.Errorf("mapping %s: id column %q is not numeric", m.Name, m.ID.Column)
	case IDTypeUUID:
		if u, ok := v.AsUUID(); ok {
			return action.NewID(u.String()), nil
		}
		if s, ok := v.AsString(); ok {
			return action.NewID(s), nil
		}
		return action.ID{}, errors.Errorf("mapping %s: id column %q is not a uuid", m.Name, m.ID.Column)
	case IDTypeString:
		if s, ok := v.AsString(); ok {
			return action.NewID(s), nil
		}
		return action.ID{}, errors.Errorf("mapping %s: id column %q is not a string", m.Name, m.ID.Column)
	default:
		return action.ID{}, errors.Errorf("mapping %s: unknown id.type", m.Name)
	}
}
