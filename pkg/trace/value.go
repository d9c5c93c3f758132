// Package trace defines the typed event and value model that agent traces
// are decoded into: Messages, ToolCalls, ToolOutputs, and the recursive
// Value sum type their fields carry.
package trace

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/tidwall/gjson"
)

// Kind identifies which alternative of the Value sum a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is the recursive sum type that tool arguments and tool-output
// content are built from: null | bool | number | string | list<Value> |
// map<string, Value>. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	list []Value
	obj  map[string]Value
}

// Null is the canonical null Value.
var Null = Value{kind: KindNull}

func Bool(b bool) Value        { return Value{kind: KindBool, b: b} }
func Number(n float64) Value   { return Value{kind: KindNumber, n: n} }
func String(s string) Value    { return Value{kind: KindString, s: s} }
func List(vs []Value) Value    { return Value{kind: KindList, list: vs} }
func Map(m map[string]Value) Value {
	return Value{kind: KindMap, obj: m}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) AsNumber() (float64, bool)  { return v.n, v.kind == KindNumber }
func (v Value) AsString() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) AsList() ([]Value, bool)    { return v.list, v.kind == KindList }
func (v Value) AsMap() (map[string]Value, bool) { return v.obj, v.kind == KindMap }

// Get returns the value at key when v is a map, or Null, false otherwise.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Null, false
	}
	val, ok := v.obj[key]
	return val, ok
}

// Index returns the i'th element when v is a list, or Null, false otherwise.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindList || i < 0 || i >= len(v.list) {
		return Null, false
	}
	return v.list[i], true
}

// Path walks a dotted/positional path (mirroring Range.JSONPath) into v,
// descending through maps (string keys) and lists (integer indices).
func (v Value) Path(parts ...string) (Value, bool) {
	cur := v
	for _, p := range parts {
		if m, ok := cur.AsMap(); ok {
			next, present := m[p]
			if !present {
				return Null, false
			}
			cur = next
			continue
		}
		if l, ok := cur.AsList(); ok {
			var idx int
			if _, err := fmt.Sscanf(p, "%d", &idx); err != nil || idx < 0 || idx >= len(l) {
				return Null, false
			}
			cur = l[idx]
			continue
		}
		return Null, false
	}
	return cur, true
}

// FromAny converts a decoded encoding/json value (nil, bool, float64,
// string, []any, map[string]any) into a Value, recursively.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case string:
		return String(t)
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = FromAny(e)
		}
		return List(out)
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = FromAny(e)
		}
		return Map(out)
	default:
		return Null
	}
}

// ToAny converts a Value back into a plain any tree, the inverse of FromAny.
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.ToAny()
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
	var x any
	if err := json.Unmarshal(data, &x); err != nil {
		return err
	}
	*v = FromAny(x)
	return nil
}

// AsParsed lazily parses a string Value as JSON, per the design note that
// string content is only parsed when a rule dereferences a nested path
// (§9: "do not eagerly parse every string"). Returns ok=false when v is not
// a string or is not valid JSON. Validation and parsing use gjson; the whole
// document is converted into a Value on every call, and nothing is cached.
func (v Value) AsParsed() (Value, bool) {
	s, ok := v.AsString()
	if !ok {
		return Null, false
	}
	if !gjson.Valid(s) {
		return Null, false
	}
	return fromGJSON(gjson.Parse(s)), true
}

// fromGJSON converts a gjson.Result into the Value ADT, recursing into
// objects and arrays the same way FromAny does for decoded `any` values.
func fromGJSON(r gjson.Result) Value {
	switch r.Type {
	case gjson.Null:
		return Null
	case gjson.True:
		return Bool(true)
	case gjson.False:
		return Bool(false)
	case gjson.Number:
		return Number(r.Num)
	case gjson.String:
		return String(r.Str)
	case gjson.JSON:
		if r.IsArray() {
			var lst []Value
			r.ForEach(func(_, val gjson.Result) bool {
				lst = append(lst, fromGJSON(val))
				return true
			})
			return List(lst)
		}
		m := map[string]Value{}
		r.ForEach(func(key, val gjson.Result) bool {
			m[key.String()] = fromGJSON(val)
			return true
		})
		return Map(m)
	default:
		return Null
	}
}

// Equal compares two Values, treating int/float numeric mixes as equal
// when numerically identical (spec §4.3: "numeric comparison tolerant of
// int/float mix").
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return numEqual(v.n, o.n)
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, a := range v.obj {
			b, ok := o.obj[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func numEqual(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	return a == b
}

// String renders a compact, deterministic debug form (map keys sorted) —
// used by fingerprinting and log output, never by Equal.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindNumber:
		return fmt.Sprintf("%v", v.n)
	case KindString:
		return v.s
	case KindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		return "[" + joinComma(parts) + "]"
	case KindMap:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ":" + v.obj[k].String()
		}
		return "{" + joinComma(parts) + "}"
	default:
		return ""
	}
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}
