package predicate_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lucasgelfond/puffgres/internal/change"
	"github.com/lucasgelfond/puffgres/internal/predicate"
)

func row(kv map[string]change.Value) change.Row {
	return change.Row(kv)
}

func TestEvaluateBasics(t *testing.T) {
	cases := []struct {
		name string
		expr string
		row  change.Row
		want bool
	}{
		{
			name: "simple equality true",
			expr: "status = 'active'",
			row:  row(map[string]change.Value{"status": change.String("active")}),
			want: true,
		},
		{
			name: "simple equality false",
			expr: "status = 'active'",
			row:  row(map[string]change.Value{"status": change.String("inactive")}),
			want: false,
		},
		{
			name: "null equals null is false",
			expr: "a = b",
			row:  row(map[string]change.Value{"a": change.Null(), "b": change.Null()}),
			want: false,
		},
		{
			name: "is null on missing column is true",
			expr: "x IS NULL",
			row:  row(map[string]change.Value{}),
			want: true,
		},
		{
			name: "is not null on present column",
			expr: "x IS NOT NULL",
			row:  row(map[string]change.Value{"x": change.Int(1)}),
			want: true,
		},
		{
			name: "and short circuit",
			expr: "deleted_at IS NULL AND archived = false",
			row: row(map[string]change.Value{
				"deleted_at": change.Null(),
				"archived":   change.Bool(false),
			}),
			want: true,
		},
		{
			name: "and fails on second operand",
			expr: "deleted_at IS NULL AND archived = false",
			row: row(map[string]change.Value{
				"deleted_at": change.Null(),
				"archived":   change.Bool(true),
			}),
			want: false,
		},
		{
			name: "or true when either true",
			expr: "status = 'active' OR status = 'pending'",
			row:  row(map[string]change.Value{"status": change.String("pending")}),
			want: true,
		},
		{
			name: "not negates",
			expr: "NOT status = 'active'",
			row:  row(map[string]change.Value{"status": change.String("inactive")}),
			want: true,
		},
		{
			name: "grouping changes precedence",
			expr: "(status = 'active' OR status = 'pending') AND archived = false",
			row: row(map[string]change.Value{
				"status":   change.String("pending"),
				"archived": change.Bool(false),
			}),
			want: true,
		},
		{
			name: "incompatible kinds never equal",
			expr: "a = b",
			row: row(map[string]change.Value{
				"a": change.Int(1),
				"b": change.Float(1),
			}),
			want: false,
		},
		{
			name: "not equal true across different values",
			expr: "status != 'active'",
			row:  row(map[string]change.Value{"status": change.String("inactive")}),
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expr, err := predicate.Parse(tc.expr)
			require.NoError(t, err)
			require.Equal(t, tc.want, predicate.Evaluate(expr, tc.row))
		})
	}
}

func TestParseErrors(t *testing.T) {
	_, err := predicate.Parse("status = ")
	require.Error(t, err)
	var pe *predicate.ParseError
	require.ErrorAs(t, err, &pe)
	require.NotEmpty(t, pe.Expected)
}

func TestEvaluateSameOnRebuiltRow(t *testing.T) {
	// Round-trip law from spec.md 8: evaluating a predicate on a row
	// equals evaluating it again after the row has been rebuilt. The
	// rebuild here copies the values into a fresh map; the row is not
	// serialized.
	expr, err := predicate.Parse("status = 'active' AND archived = false")
	require.NoError(t, err)

	original := row(map[string]change.Value{
		"status":   change.String("active"),
		"archived": change.Bool(false),
	})
	rebuilt := change.Row{}
	for k, v := range original {
		rebuilt[k] = v
	}

	require.Equal(t, predicate.Evaluate(expr, original), predicate.Evaluate(expr, rebuilt))
}
