package transform

import (
	"context"
	"encoding/json"

	"github.com/dop251/goja"
	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/change"
	"github.com/lucasgelfond/puffgres/internal/mapping"
)

// GojaExecutor runs a user-supplied JavaScript transform through a
// pure-Go ECMAScript VM (spec.md 4.6, 9). Each call to Transform gets
// a brand new goja.Runtime: runtimes are never reused across
// invocations, matching the spec's "MUST NOT rely on state across
// invocations" rule for the transform executor and sidestepping
// goja's lack of thread-safety.
type GojaExecutor struct {
	// SourceText is the interned user script; it must define a
	// top-level function `transform(batch, ctx)` returning an array of
	// action objects the same length as batch. ctx carries mapping,
	// namespace, relation and env only; the HTTP client and row lookup
	// of the InvocationContext are not exposed to the script.
	SourceText string
}

// gojaAction mirrors the JSON shape a transform script returns for
// one row: {"op": "upsert"|"delete"|"skip", "doc": {...},
// "distance_metric": "..."}.
type gojaAction struct {
	Op             string                 `json:"op"`
	Doc            map[string]interface{} `json:"doc"`
	DistanceMetric string                 `json:"distance_metric"`
}

// Transform implements Transformer by evaluating SourceText in a
// fresh VM and invoking its `transform` entry point.
func (e GojaExecutor) Transform(ctx context.Context, ictx InvocationContext, m *mapping.Mapping, items []Item) ([]action.Action, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	if _, err := vm.RunString(e.SourceText); err != nil {
		return nil, errors.Wrap(err, "compiling transform")
	}

	fn, ok := goja.AssertFunction(vm.Get("transform"))
	if !ok {
		return nil, errors.New("transform script does not define a top-level transform(batch, ctx) function")
	}

	batch := make([]map[string]interface{}, len(items))
	for i, it := range items {
		batch[i] = rowToJS(it)
	}

	jsCtx := map[string]interface{}{
		"mapping":   ictx.MappingName,
		"namespace": ictx.Namespace,
		"relation":  ictx.Relation,
		"env":       ictx.Env,
	}

	result, err := fn(goja.Undefined(), vm.ToValue(batch), vm.ToValue(jsCtx))
	if err != nil {
		return nil, errors.Wrap(err, "executing transform")
	}

	var raw []gojaAction
	if err := vm.ExportTo(result, &raw); err != nil {
		return nil, errors.Wrap(err, "transform did not return an array of actions")
	}
	if len(raw) != len(items) {
		return nil, errors.Errorf("transform returned %d actions for %d input rows", len(raw), len(items))
	}

	out := make([]action.Action, len(items))
	attr := versionAttribute(m)
	for i, r := range raw {
		it := items[i]
		switch r.Op {
		case "upsert":
			doc, err := docToValues(r.Doc)
			if err != nil {
				return nil, errors.Wrapf(err, "row %d: converting transform doc", i)
			}
			a := action.Upsert(it.ID, doc, attr, versionToken(m, it.Change.Current(), it.Change.LSN), it.Change.LSN)
			a.DistanceMetric = r.DistanceMetric
			out[i] = a
		case "delete":
			out[i] = action.Delete(it.ID, attr, versionToken(m, it.Change.Current(), it.Change.LSN), it.Change.LSN)
		case "skip":
			out[i] = action.Skip(it.Change.LSN)
		default:
			return nil, errors.Errorf("row %d: unknown transform action op %q", i, r.Op)
		}
	}
	return out, nil
}

func rowToJS(it Item) map[string]interface{} {
	row := it.Change.Current()
	doc := make(map[string]interface{}, len(row))
	for col, v := range row {
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal(b, &decoded); err == nil {
			doc[col] = decoded
		}
	}
	return map[string]interface{}{
		"op":  it.Change.Op.String(),
		"id":  it.ID.Raw,
		"row": doc,
	}
}

func docToValues(doc map[string]interface{}) (map[string]change.Value, error) {
	out := make(map[string]change.Value, len(doc))
	for k, v := range doc {
		val, err := jsValueToChange(v)
		if err != nil {
			return nil, errors.Wrapf(err, "column %q", k)
		}
		out[k] = val
	}
	return out, nil
}

func jsValueToChange(v interface{}) (change.Value, error) {
	switch t := v.(type) {
	case nil:
		return change.Null(), nil
	case bool:
		return change.Bool(t), nil
	case string:
		return change.String(t), nil
	case int64:
		return change.Int(t), nil
	case float64:
		if t == float64(int64(t)) {
			return change.Int(int64(t)), nil
		}
		return change.Float(t), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return change.Value{}, err
		}
		return change.JSON(b), nil
	}
}
