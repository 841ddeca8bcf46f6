package router

import (
	"github.com/lucasgelfond/puffgres/internal/change"
	"github.com/lucasgelfond/puffgres/internal/mapping"
	"github.com/lucasgelfond/puffgres/internal/predicate"
)

func evaluate(m *mapping.Mapping, row change.Row) bool {
	if m.Membership.Expr == nil {
		return false
	}
	return predicate.Evaluate(m.Membership.Expr, row)
}
