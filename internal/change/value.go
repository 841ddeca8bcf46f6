package change

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind tags the dynamic type carried by a Value. The set is closed:
// every Value is exactly one of these, matching spec.md 4.1's
// "uniform value representation" and the migration note in spec.md 9
// ("dynamic typing of row values -> closed tagged value type").
type Kind int

const (
	// KindNull represents SQL NULL.
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBinary
	// KindTimestamp values are always normalized to UTC microseconds.
	KindTimestamp
	KindUUID
	// KindJSON carries an already-encoded JSON document verbatim.
	KindJSON
)

// Value is a closed tagged union over the column value types the
// engine understands. The zero Value is KindNull.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	bs   []byte
	t    time.Time
	u    uuid.UUID
	j    json.RawMessage
}

// Kind reports which variant is populated.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is SQL NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Null constructs a null Value.
func Null() Value { return Value{kind: KindNull} }

// Bool constructs a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int constructs a signed 64-bit integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float constructs a double-precision Value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String constructs a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Binary constructs a raw byte-string Value.
func Binary(b []byte) Value { return Value{kind: KindBinary, bs: b} }

// Timestamp constructs a Value from a time normalized to UTC
// microrsecond precision.
func Timestamp(t time.Time) Value {
	return Value{kind: KindTimestamp, t: t.UTC().Truncate(time.Microsecond)}
}

// UUID constructs a Value wrapping a UUID.
func UUID(u uuid.UUID) Value { return Value{kind: KindUUID, u: u} }

// JSON constructs a Value wrapping an already-encoded JSON document.
func JSON(raw json.RawMessage) Value { return Value{kind: KindJSON, j: raw} }

// AsBool returns the boolean payload and whether the Value was
// KindBool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer payload and whether the Value was
// KindInt.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float payload and whether the Value was
// KindFloat.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsString returns the string payload and whether the Value was
// KindString.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsBinary returns the byte payload and whether the Value was
// KindBinary.
func (v Value) AsBinary() ([]byte, bool) { return v.bs, v.kind == KindBinary }

// AsTimestamp returns the time payload and whether the Value was
// KindTimestamp.
func (v Value) AsTimestamp() (time.Time, bool) { return v.t, v.kind == KindTimestamp }

// AsUUID returns the UUID payload and whether the Value was KindUUID.
func (v Value) AsUUID() (uuid.UUID, bool) { return v.u, v.kind == KindUUID }

// AsJSON returns the JSON payload and whether the Value was KindJSON.
func (v Value) AsJSON() (json.RawMessage, bool) { return v.j, v.kind == KindJSON }

// Equal reports whether two Values have the same kind and payload.
// Comparing across kinds, even numerically-compatible ones, always
// returns false; the predicate evaluator (internal/predicate) is
// responsible for any looser comparison semantics.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindBinary:
		return string(v.bs) == string(o.bs)
	case KindTimestamp:
		return v.t.Equal(o.t)
	case KindUUID:
		return v.u == o.u
	case KindJSON:
		return string(v.j) == string(o.j)
	default:
		return false
	}
}

// MarshalJSON renders the Value as a plain JSON scalar, used both for
// round-tripping through the state store and for building turbopuffer
// attribute payloads.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindBinary:
		return json.Marshal(v.bs) // base64 string, matching encoding/json bytes behavior
	case KindTimestamp:
		return json.Marshal(v.t.Format(time.RFC3339Nano))
	case KindUUID:
		return json.Marshal(v.u.String())
	case KindJSON:
		if len(v.j) == 0 {
			return []byte("null"), nil
		}
		return v.j, nil
	default:
		return []byte("null"), nil
	}
}
