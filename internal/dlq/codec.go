package dlq

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/change"
	"github.com/lucasgelfond/puffgres/internal/state"
	"github.com/lucasgelfond/puffgres/internal/transform"
)

// eventPayload is the JSON shape stored in DLQEntry.EventJSON: a
// frozen snapshot of the Change (and its already-extracted target id)
// that produced a PermanentFailure, complete enough to rebuild a
// transform.Item for a retry. change.Value has no inverse of
// MarshalJSON -- it's a closed union built for outbound serialization
// (turbopuffer payloads, state-store rows), not round-tripping -- so
// this package carries its own kind-tagged freeze/thaw rather than
// adding an unused UnmarshalJSON to internal/change.
type eventPayload struct {
	Op       change.Op  `json:"op"`
	Schema   string     `json:"schema"`
	Relation string     `json:"relation"`
	New      frozenRow  `json:"new,omitempty"`
	Old      frozenRow  `json:"old,omitempty"`
	LSN      change.LSN `json:"lsn"`
	Txid     uint64     `json:"txid"`
	ID       string     `json:"id"`
}

type frozenValue struct {
	Kind change.Kind     `json:"kind"`
	Raw  json.RawMessage `json:"raw"`
}

type frozenRow map[string]frozenValue

// Freeze captures it as a JSON payload suitable for DLQEntry.EventJSON.
func Freeze(it transform.Item) (json.RawMessage, error) {
	p := eventPayload{
		Op:       it.Change.Op,
		Schema:   it.Change.Schema,
		Relation: it.Change.Relation,
		LSN:      it.Change.LSN,
		Txid:     it.Change.Txid,
		ID:       it.ID.Raw,
	}

	var err error
	if it.Change.New != nil {
		if p.New, err = freezeRow(it.Change.New); err != nil {
			return nil, err
		}
	}
	if it.Change.Old != nil {
		if p.Old, err = freezeRow(it.Change.Old); err != nil {
			return nil, err
		}
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "dlq: freezing event")
	}
	return raw, nil
}

func freezeRow(row change.Row) (frozenRow, error) {
	out := make(frozenRow, len(row))
	for col, v := range row {
		raw, err := v.MarshalJSON()
		if err != nil {
			return nil, errors.Wrapf(err, "dlq: freezing column %q", col)
		}
		out[col] = frozenValue{Kind: v.Kind(), Raw: raw}
	}
	return out, nil
}

// thawItem reconstructs the transform.Item a DLQ entry was produced
// from, for replay through Transform on retry.
func thawItem(e state.DLQEntry) (transform.Item, error) {
	if len(e.EventJSON) == 0 {
		return transform.Item{}, errors.Errorf("dlq: entry %d has no stored event payload to retry", e.ID)
	}

	var p eventPayload
	if err := json.Unmarshal(e.EventJSON, &p); err != nil {
		return transform.Item{}, errors.Wrapf(err, "dlq: decoding event payload for entry %d", e.ID)
	}

	c := change.Change{Op: p.Op, Schema: p.Schema, Relation: p.Relation, LSN: p.LSN, Txid: p.Txid}

	var err error
	if p.New != nil {
		if c.New, err = thawRow(p.New); err != nil {
			return transform.Item{}, err
		}
	}
	if p.Old != nil {
		if c.Old, err = thawRow(p.Old); err != nil {
			return transform.Item{}, err
		}
	}

	return transform.Item{Change: c, ID: action.NewID(p.ID)}, nil
}

func thawRow(fr frozenRow) (change.Row, error) {
	out := make(change.Row, len(fr))
	for col, fv := range fr {
		v, err := thawValue(fv)
		if err != nil {
			return nil, errors.Wrapf(err, "dlq: thawing column %q", col)
		}
		out[col] = v
	}
	return out, nil
}

func thawValue(fv frozenValue) (change.Value, error) {
	switch fv.Kind {
	case change.KindNull:
		return change.Null(), nil
	case change.KindBool:
		var b bool
		if err := json.Unmarshal(fv.Raw, &b); err != nil {
			return change.Value{}, err
		}
		return change.Bool(b), nil
	case change.KindInt:
		var i int64
		if err := json.Unmarshal(fv.Raw, &i); err != nil {
			return change.Value{}, err
		}
		return change.Int(i), nil
	case change.KindFloat:
		var f float64
		if err := json.Unmarshal(fv.Raw, &f); err != nil {
			return change.Value{}, err
		}
		return change.Float(f), nil
	case change.KindString:
		var s string
		if err := json.Unmarshal(fv.Raw, &s); err != nil {
			return change.Value{}, err
		}
		return change.String(s), nil
	case change.KindBinary:
		var b []byte
		if err := json.Unmarshal(fv.Raw, &b); err != nil {
			return change.Value{}, err
		}
		return change.Binary(b), nil
	case change.KindTimestamp:
		var s string
		if err := json.Unmarshal(fv.Raw, &s); err != nil {
			return change.Value{}, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return change.Value{}, err
		}
		return change.Timestamp(t), nil
	case change.KindUUID:
		var s string
		if err := json.Unmarshal(fv.Raw, &s); err != nil {
			return change.Value{}, err
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return change.Value{}, err
		}
		return change.UUID(u), nil
	case change.KindJSON:
		return change.JSON(fv.Raw), nil
	default:
		return change.Value{}, errors.Errorf("dlq: unknown value kind %d", fv.Kind)
	}
}
