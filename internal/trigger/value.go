package trigger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Kind discriminates the variants a Value can hold.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
	KindStrings
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindStrings:
		return "strings"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is an immutable tagged union used on both sides of a comparison:
// as a trigger operand and as a value held in the trigger value store.
// The zero Value is Null.
type Value struct {
	kind Kind
	num  float64
	str  string
	flag bool
	list []string
}

// Null returns the null value.
func Null() Value { return Value{} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// Strings returns an ordered sequence of strings. The input is copied.
func Strings(items ...string) Value {
	return Value{kind: KindStrings, list: slices.Clone(items)}
}

// FromAny converts a host-supplied Go value into a Value.
// Supported inputs are nil, bool, string, every integer and float kind,
// json.Number, []string and []any whose elements are all strings.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case int:
		return Number(float64(x)), nil
	case int8:
		return Number(float64(x)), nil
	case int16:
		return Number(float64(x)), nil
	case int32:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case uint:
		return Number(float64(x)), nil
	case uint8:
		return Number(float64(x)), nil
	case uint16:
		return Number(float64(x)), nil
	case uint32:
		return Number(float64(x)), nil
	case uint64:
		return Number(float64(x)), nil
	case float32:
		return Number(float64(x)), nil
	case float64:
		return Number(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", x.String(), err)
		}
		return Number(f), nil
	case []string:
		return Strings(x...), nil
	case []any:
		items := make([]string, 0, len(x))
		for i, item := range x {
			s, ok := item.(string)
			if !ok {
				return Value{}, fmt.Errorf("list element %d: expected string, got %T", i, item)
			}
			items = append(items, s)
		}
		return Value{kind: KindStrings, list: items}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", v)
	}
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Float returns the numeric form of v. Strings holding a finite decimal
// number are numeric-looking and convert; NaN, infinities and hex floats
// stay strings. Every other kind reports false.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		if strings.ContainsAny(v.str, "xX") {
			return 0, false
		}
		f, err := strconv.ParseFloat(v.str, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Text returns the scalar string form of v used for exact equality.
// Lists and null have no scalar form.
func (v Value) Text() (string, bool) {
	switch v.kind {
	case KindString:
		return v.str, true
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64), true
	case KindBool:
		return strconv.FormatBool(v.flag), true
	default:
		return "", false
	}
}

// List returns a copy of the string sequence held by v.
func (v Value) List() ([]string, bool) {
	if v.kind != KindStrings {
		return nil, false
	}
	return slices.Clone(v.list), true
}

// Has reports whether v is a string sequence containing s.
func (v Value) Has(s string) bool {
	return v.kind == KindStrings && slices.Contains(v.list, s)
}

// Interface returns v as a plain Go value (nil, float64, string, bool or []string).
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindBool:
		return v.flag
	case KindStrings:
		return slices.Clone(v.list)
	default:
		return nil
	}
}

// Equal reports whether two values hold the same variant and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.flag == o.flag
	case KindStrings:
		return slices.Equal(v.list, o.list)
	default:
		return true
	}
}

func (v Value) String() string {
	if s, ok := v.Text(); ok {
		return s
	}
	if v.kind == KindStrings {
		return fmt.Sprintf("%q", v.list)
	}
	return "null"
}

// MarshalJSON encodes v as the matching JSON scalar or array.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes a JSON null, number, string, bool or array of strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
