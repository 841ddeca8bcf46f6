package predicate

import "github.com/lucasgelfond/puffgres/internal/change"

// Evaluate runs a parsed predicate against a row view. Type coercion
// is strict: comparing values of incompatible kinds yields false
// rather than an error, NULL = x is always false, and NULL IS NULL is
// always true (spec.md 4.2).
func Evaluate(expr Expr, row change.Row) bool {
	switch e := expr.(type) {
	case Literal:
		b, _ := literalTruth(e)
		return b
	case Column:
		v, ok := row.Get(e.Name)
		if !ok || v.IsNull() {
			return false
		}
		b, isBool := v.AsBool()
		return isBool && b
	case Compare:
		lv, lok := resolve(e.Left, row)
		rv, rok := resolve(e.Right, row)
		if !lok || !rok {
			return false
		}
		eq := valuesEqual(lv, rv)
		if e.Op == OpNotEqual {
			return !eq && !lv.IsNull() && !rv.IsNull() && lv.Kind() == rv.Kind()
		}
		return eq
	case IsNullCheck:
		v, ok := resolve(e.Target, row)
		isNull := !ok || v.IsNull()
		if e.Negate {
			return !isNull
		}
		return isNull
	case Not:
		return !Evaluate(e.Inner, row)
	case And:
		for _, op := range e.Operands {
			if !Evaluate(op, row) {
				return false
			}
		}
		return true
	case Or:
		for _, op := range e.Operands {
			if Evaluate(op, row) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// resolve turns a Column or Literal atom into a change.Value. The
// bool result is false only when a referenced column is entirely
// absent from the row (as opposed to present with an explicit NULL).
func resolve(e Expr, row change.Row) (change.Value, bool) {
	switch a := e.(type) {
	case Column:
		v, ok := row.Get(a.Name)
		if !ok {
			return change.Null(), false
		}
		return v, true
	case Literal:
		return literalValue(a), true
	default:
		// A nested boolean expression used where a scalar atom was
		// expected never compares equal to anything; strict coercion
		// treats it as absent.
		return change.Null(), false
	}
}

func literalValue(l Literal) change.Value {
	switch {
	case l.IsNull:
		return change.Null()
	case l.IsBool:
		return change.Bool(l.Bool)
	case l.IsInt:
		return change.Int(l.Int)
	case l.IsReal:
		return change.Float(l.Real)
	case l.IsStr:
		return change.String(l.Str)
	default:
		return change.Null()
	}
}

func literalTruth(l Literal) (bool, bool) {
	if l.IsBool {
		return l.Bool, true
	}
	return false, false
}

// valuesEqual implements the DSL's strict equality: NULL never equals
// anything (including NULL, per "NULL = x yields false"), and values
// of different kinds never compare equal even when numerically
// compatible (e.g. Int(1) != Float(1)).
func valuesEqual(a, b change.Value) bool {
	if a.IsNull() || b.IsNull() {
		return false
	}
	if a.Kind() != b.Kind() {
		return false
	}
	return a.Equal(b)
}
