// Package event defines the unit of data flowing through pipelines: a
// structured or raw payload plus string metadata describing its origin.
//
// Payloads are modeled as a tagged-variant tree (Value) rather than raw
// map[string]any so that field access is explicit about kinds: accessors
// return an error on kind mismatch instead of silently coercing.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	Null Kind = iota
	Object
	Array
	String
	Number
	Bool
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Object:
		return "object"
	case Array:
		return "array"
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// ErrKindMismatch is returned by typed accessors when the Value holds a
// different kind than requested.
var ErrKindMismatch = errors.New("value kind mismatch")

// Value is one node of a JSON-like tree: object, array, string, number,
// bool, or null. The zero Value is Null.
//
// Objects mutate in place (the member map is shared); arrays have value
// semantics: Append returns the grown array, callers store it back with Set.
type Value struct {
	kind Kind
	obj  map[string]Value
	arr  []Value
	str  string
	num  float64
	b    bool
}

// NewObject returns an empty object value.
func NewObject() Value {
	return Value{kind: Object, obj: make(map[string]Value)}
}

// NewArray returns an array value holding the given items.
func NewArray(items ...Value) Value {
	return Value{kind: Array, arr: items}
}

// NewString returns a string value.
func NewString(s string) Value { return Value{kind: String, str: s} }

// NewNumber returns a number value.
func NewNumber(f float64) Value { return Value{kind: Number, num: f} }

// NewBool returns a bool value.
func NewBool(b bool) Value { return Value{kind: Bool, b: b} }

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == Null }

// AsString returns the string form of a String value.
func (v Value) AsString() (string, error) {
	if v.kind != String {
		return "", fmt.Errorf("%w: have %s, want string", ErrKindMismatch, v.kind)
	}
	return v.str, nil
}

// AsNumber returns the float64 form of a Number value.
func (v Value) AsNumber() (float64, error) {
	if v.kind != Number {
		return 0, fmt.Errorf("%w: have %s, want number", ErrKindMismatch, v.kind)
	}
	return v.num, nil
}

// AsInt64 returns a Number value truncated to int64.
func (v Value) AsInt64() (int64, error) {
	f, err := v.AsNumber()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// AsBool returns the bool form of a Bool value.
func (v Value) AsBool() (bool, error) {
	if v.kind != Bool {
		return false, fmt.Errorf("%w: have %s, want bool", ErrKindMismatch, v.kind)
	}
	return v.b, nil
}

// Text renders v for substitution into text: strings verbatim, numbers
// without a trailing ".0", booleans as true/false, null as the empty
// string, objects and arrays as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case Null:
		return ""
	case String:
		return v.str
	case Number:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case Bool:
		return strconv.FormatBool(v.b)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Len returns the member count for objects and arrays, zero otherwise.
func (v Value) Len() int {
	switch v.kind {
	case Object:
		return len(v.obj)
	case Array:
		return len(v.arr)
	default:
		return 0
	}
}

// Field returns the named member of an object value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	m, ok := v.obj[name]
	return m, ok
}

// Index returns the i'th element of an array value.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != Array || i < 0 || i >= len(v.arr) {
		return Value{}, false
	}
	return v.arr[i], true
}

// Items iterates an array value's elements in order. Empty for other kinds.
func (v Value) Items() iter.Seq[Value] {
	return func(yield func(Value) bool) {
		for _, item := range v.arr {
			if !yield(item) {
				return
			}
		}
	}
}

// Fields iterates an object value's members. Order is unspecified.
func (v Value) Fields() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		for k, m := range v.obj {
			if !yield(k, m) {
				return
			}
		}
	}
}

// Set stores a member on an object value.
func (v Value) Set(name string, item Value) error {
	if v.kind != Object {
		return fmt.Errorf("%w: have %s, want object", ErrKindMismatch, v.kind)
	}
	v.obj[name] = item
	return nil
}

// Delete removes a member from an object value. No-op for other kinds.
func (v Value) Delete(name string) {
	if v.kind == Object {
		delete(v.obj, name)
	}
}

// Append returns the array value grown by item. The receiver is unchanged;
// store the result back where it came from.
func (v Value) Append(item Value) (Value, error) {
	if v.kind != Array {
		return Value{}, fmt.Errorf("%w: have %s, want array", ErrKindMismatch, v.kind)
	}
	grown := make([]Value, 0, len(v.arr)+1)
	grown = append(grown, v.arr...)
	grown = append(grown, item)
	return Value{kind: Array, arr: grown}, nil
}

// Pointer resolves a JSON-pointer-like path ("/a/b/0") against v. Each
// segment names an object member or, when it parses as an integer, an
// array index. An empty path returns v itself.
func (v Value) Pointer(path string) (Value, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for seg := range strings.SplitSeq(strings.TrimPrefix(path, "/"), "/") {
		switch cur.kind {
		case Object:
			m, ok := cur.obj[seg]
			if !ok {
				return Value{}, false
			}
			cur = m
		case Array:
			i, err := strconv.Atoi(seg)
			if err != nil {
				return Value{}, false
			}
			m, ok := cur.Index(i)
			if !ok {
				return Value{}, false
			}
			cur = m
		default:
			return Value{}, false
		}
	}
	return cur, true
}

// Interface converts v to the equivalent encoding/json tree
// (map[string]any, []any, string, float64, bool, nil).
func (v Value) Interface() any {
	switch v.kind {
	case Object:
		m := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			m[k] = item.Interface()
		}
		return m
	case Array:
		s := make([]any, len(v.arr))
		for i, item := range v.arr {
			s[i] = item.Interface()
		}
		return s
	case String:
		return v.str
	case Number:
		return v.num
	case Bool:
		return v.b
	default:
		return nil
	}
}

// FromInterface converts an encoding/json tree to a Value. Integer kinds
// and json.Number are widened to float64.
func FromInterface(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Value{}, nil
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, item := range t {
			m, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			obj[k] = m
		}
		return Value{kind: Object, obj: obj}, nil
	case []any:
		arr := make([]Value, len(t))
		for i, item := range t {
			m, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			arr[i] = m
		}
		return Value{kind: Array, arr: arr}, nil
	case string:
		return NewString(t), nil
	case []byte:
		return NewString(string(t)), nil
	case float64:
		return NewNumber(t), nil
	case float32:
		return NewNumber(float64(t)), nil
	case int:
		return NewNumber(float64(t)), nil
	case int8:
		return NewNumber(float64(t)), nil
	case int16:
		return NewNumber(float64(t)), nil
	case int32:
		return NewNumber(float64(t)), nil
	case int64:
		return NewNumber(float64(t)), nil
	case uint:
		return NewNumber(float64(t)), nil
	case uint8:
		return NewNumber(float64(t)), nil
	case uint16:
		return NewNumber(float64(t)), nil
	case uint32:
		return NewNumber(float64(t)), nil
	case uint64:
		return NewNumber(float64(t)), nil
	case bool:
		return NewBool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("number %q: %w", t.String(), err)
		}
		return NewNumber(f), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

// MarshalJSON encodes v as the corresponding JSON value.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes any JSON value into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	var x any
	if err := json.Unmarshal(data, &x); err != nil {
		return err
	}
	parsed, err := FromInterface(x)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
