// Package jsonvalue implements the first-class JSON value the template
// engine and expression evaluator share, so that both operate as total
// functions over one sum type instead of reflecting on interface{}.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
)

// Kind identifies which arm of the sum a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is the tagged union null|bool|number|string|array|object.
// Only the field matching Kind is meaningful.
type Value struct {
	Kind   Kind
	Bool   bool
	Number float64
	Str    string
	Arr    []Value
	Obj    map[string]Value
}

var Null = Value{Kind: KindNull}

func Bool(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func Number(n float64) Value { return Value{Kind: KindNumber, Number: n} }
func String(s string) Value { return Value{Kind: KindString, Str: s} }
func Array(v []Value) Value { return Value{Kind: KindArray, Arr: v} }
func Object(m map[string]Value) Value { return Value{Kind: KindObject, Obj: m} }

// FromAny converts an interface{} produced by encoding/json (or built up
// by hand from the same primitive set) into a Value.
func FromAny(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Null
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case string:
		return String(t)
	case []interface{}:
		out := make([]Value, len(t))
		for i, item := range t {
			out[i] = FromAny(item)
		}
		return Array(out)
	case map[string]interface{}:
		out := make(map[string]Value, len(t))
		for k, item := range t {
			out[k] = FromAny(item)
		}
		return Object(out)
	case json.Number:
		f, _ := t.Float64()
		return Number(f)
	default:
		// Fall back through JSON round-trip for any other concrete type
		// (struct, custom marshaler, etc.)
		b, err := json.Marshal(t)
		if err != nil {
			return Null
		}
		var generic interface{}
		if err := json.Unmarshal(b, &generic); err != nil {
			return Null
		}
		return FromAny(generic)
	}
}

// ToAny converts a Value back into the plain interface{} shape
// encoding/json expects to marshal.
func (v Value) ToAny() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Number
	case KindString:
		return v.Str
	case KindArray:
		out := make([]interface{}, len(v.Arr))
		for i, item := range v.Arr {
			out[i] = item.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.Obj))
		for k, item := range v.Obj {
			out[k] = item.ToAny()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return err
	}
	*v = FromAny(generic)
	return nil
}

// String renders the value as the string coercion spec §4.1 interpolation
// needs: strings pass through verbatim, null renders as the empty string,
// and everything else is its compact JSON form.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.Number)
	case KindString:
		return v.Str
	default:
		b, err := json.Marshal(v.ToAny())
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// Truthy implements the language-natural boolean coercion the spec's
// expression evaluator and input-preparation steps need.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Number != 0
	case KindString:
		return v.Str != ""
	case KindArray:
		return len(v.Arr) > 0
	case KindObject:
		return len(v.Obj) > 0
	default:
		return false
	}
}

// Get resolves a single path segment against v, per spec §4.1's path
// resolution rule: object -> key lookup, array -> non-negative integer
// index, anything else -> failure (ok=false).
func (v Value) Get(segment string) (Value, bool) {
	switch v.Kind {
	case KindObject:
		val, ok := v.Obj[segment]
		return val, ok
	case KindArray:
		idx, err := strconv.Atoi(segment)
		if err != nil || idx < 0 || idx >= len(v.Arr) {
			return Null, false
		}
		return v.Arr[idx], true
	default:
		return Null, false
	}
}

// GetPath walks a dot-joined path of segments, stopping (ok=false) at the
// first unresolved segment.
func (v Value) GetPath(segments []string) (Value, bool) {
	cur := v
	for _, seg := range segments {
		next, ok := cur.Get(seg)
		if !ok {
			return Null, false
		}
		cur = next
	}
	return cur, true
}

// GetObjectPath is the output-extraction variant spec §4.4 step 6 needs:
// arrays are never traversed by numeric segment, only objects by key.
func (v Value) GetObjectPath(segments []string) (Value, bool) {
	cur := v
	for _, seg := range segments {
		if cur.Kind != KindObject {
			return Null, false
		}
		next, ok := cur.Obj[seg]
		if !ok {
			return Null, false
		}
		cur = next
	}
	return cur, true
}

// Equal implements the structural equality the expression evaluator's
// == / != operators need.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		// Allow number/string/bool cross-kind equality to simply be false,
		// as in JS loose-equality-free comparisons this grammar supports.
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindNumber:
		return a.Number == b.Number
	case KindString:
		return a.Str == b.Str
	case KindArray:
		if len(a.Arr) != len(b.Arr) {
			return false
		}
		for i := range a.Arr {
			if !Equal(a.Arr[i], b.Arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.Obj) != len(b.Obj) {
			return false
		}
		keys := make([]string, 0, len(a.Obj))
		for k := range a.Obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			bv, ok := b.Obj[k]
			if !ok || !Equal(a.Obj[k], bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
