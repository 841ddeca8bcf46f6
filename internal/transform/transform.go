// Package transform implements the Transformer boundary (spec.md
// 4.6): the engine never interprets user transform code directly, it
// calls a Transformer with a batch of (event, id) pairs for one
// mapping and receives an equal-length, element-aligned vector of
// actions.
package transform

import (
	"context"
	"net/http"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/change"
	"github.com/lucasgelfond/puffgres/internal/mapping"
)

// Item is one input element: the decoded change paired with its
// already-extracted target id.
type Item struct {
	Change change.Change
	ID     action.ID
}

// RowLookup is the optional row-lookup helper a transform may call to
// read other rows from the source while computing a document.
type RowLookup interface {
	FetchRow(ctx context.Context, schema, relation string, idColumn string, idValue change.Value) (row change.Row, found bool, err error)
}

// InvocationContext carries everything a Transformer call is allowed
// to see: migration identity, environment variables, an HTTP escape
// hatch, and an optional row-lookup helper (spec.md 4.6).
type InvocationContext struct {
	MappingName string
	Namespace   string
	Relation    string

	Env map[string]string

	// HTTPClient is the escape hatch a Transformer may use to reach
	// arbitrary HTTP endpoints; nil disables it. GojaExecutor does not
	// pass it (or Lookup) to the script it runs.
	HTTPClient *http.Client

	Lookup RowLookup
}

// Transformer converts a batch of Items for one mapping into an
// equal-length, element-aligned batch of Actions (spec.md 4.6).
// Implementations MUST preserve the (event, id) ordering of items in
// their returned actions; the engine enforces length equality and
// treats any violation as a PermanentFailure for the whole batch.
type Transformer interface {
	Transform(ctx context.Context, ictx InvocationContext, m *mapping.Mapping, items []Item) ([]action.Action, error)
}

// Invoke calls t.Transform and enforces the batch contract from
// spec.md 4.6: on a length mismatch, or on an error from the
// executor, every row in the batch becomes a PermanentFailure rather
// than letting a partial or misaligned result reach the Batcher.
func Invoke(ctx context.Context, t Transformer, ictx InvocationContext, m *mapping.Mapping, items []Item) []action.Action {
	actions, err := t.Transform(ctx, ictx, m, items)
	if err != nil {
		return failAll(items, change.KindTransform, err.Error())
	}
	if len(actions) != len(items) {
		return failAll(items, change.KindTransform,
			"transformer returned a batch of different length than its input")
	}
	return actions
}

func failAll(items []Item, kind change.Kind, message string) []action.Action {
	out := make([]action.Action, len(items))
	for i, it := range items {
		out[i] = action.PermanentFailure(kind, message, nil, it.Change.LSN)
	}
	return out
}
