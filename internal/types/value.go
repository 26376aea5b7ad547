package types

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrUndefinedValue is returned when a caller supplies no value at all.
	ErrUndefinedValue = errors.New("undefined value")
	// ErrUnsupportedValue is returned for values NetworkTables cannot carry:
	// null, objects, mixed or nested arrays, NaN and infinities.
	ErrUnsupportedValue = errors.New("unsupported value")
)

// Kind identifies which case of Value is populated.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindNumber
	KindString
	KindBoolArray
	KindNumberArray
	KindStringArray
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBoolArray:
		return "boolean[]"
	case KindNumberArray:
		return "number[]"
	case KindStringArray:
		return "string[]"
	default:
		return "invalid"
	}
}

// IsArray reports whether k is one of the array kinds.
func (k Kind) IsArray() bool {
	return k == KindBoolArray || k == KindNumberArray || k == KindStringArray
}

// Value is a single NetworkTables value: a boolean, a number, a string or a
// homogeneous array of one of those. The zero Value is invalid.
//
// Values are immutable; accessors for array kinds return copies.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	bs   []bool
	ns   []float64
	ss   []string
}

func BoolValue(b bool) Value      { return Value{kind: KindBool, b: b} }
func NumberValue(n float64) Value { return Value{kind: KindNumber, n: n} }
func StringValue(s string) Value  { return Value{kind: KindString, s: s} }

func BoolArrayValue(bs []bool) Value {
	return Value{kind: KindBoolArray, bs: append(make([]bool, 0, len(bs)), bs...)}
}

func NumberArrayValue(ns []float64) Value {
	return Value{kind: KindNumberArray, ns: append(make([]float64, 0, len(ns)), ns...)}
}

func StringArrayValue(ss []string) Value {
	return Value{kind: KindStringArray, ss: append(make([]string, 0, len(ss)), ss...)}
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsValid() bool { return v.kind != KindInvalid }
func (v Value) IsArray() bool { return v.kind.IsArray() }

func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) Number() (float64, bool) {
	return v.n, v.kind == KindNumber
}

// Str returns the string case. It is not named String so that Value can
// implement fmt.Stringer.
func (v Value) Str() (string, bool) {
	return v.s, v.kind == KindString
}

func (v Value) Bools() ([]bool, bool) {
	if v.kind != KindBoolArray {
		return nil, false
	}
	return append([]bool(nil), v.bs...), true
}

func (v Value) Numbers() ([]float64, bool) {
	if v.kind != KindNumberArray {
		return nil, false
	}
	return append([]float64(nil), v.ns...), true
}

func (v Value) Strings() ([]string, bool) {
	if v.kind != KindStringArray {
		return nil, false
	}
	return append([]string(nil), v.ss...), true
}

// Interface returns the value as a plain Go value (bool, float64, string,
// []bool, []float64 or []string), or nil for the zero Value.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindBoolArray:
		out, _ := v.Bools()
		return out
	case KindNumberArray:
		out, _ := v.Numbers()
		return out
	case KindStringArray:
		out, _ := v.Strings()
		return out
	default:
		return nil
	}
}

// Equal reports whether both values have the same kind and contents.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindBoolArray:
		return sliceEqual(v.bs, o.bs)
	case KindNumberArray:
		return sliceEqual(v.ns, o.ns)
	case KindStringArray:
		return sliceEqual(v.ss, o.ss)
	default:
		return true
	}
}

func sliceEqual[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String renders the value the way it appears on the wire.
func (v Value) String() string {
	switch v.kind {
	case KindInvalid:
		return "<invalid>"
	case KindNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return string(data)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindInvalid {
		return nil, ErrUndefinedValue
	}
	switch v.kind {
	case KindBoolArray:
		if v.bs == nil {
			return []byte("[]"), nil
		}
	case KindNumberArray:
		if v.ns == nil {
			return []byte("[]"), nil
		}
	case KindStringArray:
		if v.ss == nil {
			return []byte("[]"), nil
		}
	}
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	out, err := fromDecoded(decoded)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// fromDecoded maps the output of a generic JSON decode onto Value. Empty
// arrays carry no element type and decode as an empty number array.
func fromDecoded(x any) (Value, error) {
	switch t := x.(type) {
	case bool:
		return BoolValue(t), nil
	case float64:
		return NumberValue(t), nil
	case string:
		return StringValue(t), nil
	case []any:
		return arrayOf(t)
	case nil:
		return Value{}, fmt.Errorf("%w: null", ErrUnsupportedValue)
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, x)
	}
}

// ValueOf converts a Go value into a Value.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Value{}, ErrUndefinedValue
	case Value:
		if !t.IsValid() {
			return Value{}, ErrUndefinedValue
		}
		return t, nil
	case *Value:
		if t == nil || !t.IsValid() {
			return Value{}, ErrUndefinedValue
		}
		return *t, nil
	case bool:
		return BoolValue(t), nil
	case string:
		return StringValue(t), nil
	case []bool:
		return BoolArrayValue(t), nil
	case []string:
		return StringArrayValue(t), nil
	case []float64:
		return numbersOf(t)
	case []float32:
		return numbersOf(t)
	case []int:
		return numbersOf(t)
	case []int32:
		return numbersOf(t)
	case []int64:
		return numbersOf(t)
	case []any:
		return arrayOf(t)
	}
	if n, ok := toNumber(x); ok {
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return Value{}, fmt.Errorf("%w: %v", ErrUnsupportedValue, n)
		}
		return NumberValue(n), nil
	}
	return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, x)
}

// MustValueOf is ValueOf for values known to be valid, such as literals.
func MustValueOf(x any) Value {
	v, err := ValueOf(x)
	if err != nil {
		panic(err)
	}
	return v
}

func numbersOf[T float32 | float64 | int | int32 | int64](in []T) (Value, error) {
	ns := make([]float64, len(in))
	for i, n := range in {
		f := float64(n)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, fmt.Errorf("%w: element %d is %v", ErrUnsupportedValue, i, f)
		}
		ns[i] = f
	}
	return Value{kind: KindNumberArray, ns: ns}, nil
}

func arrayOf(items []any) (Value, error) {
	if len(items) == 0 {
		return Value{kind: KindNumberArray, ns: []float64{}}, nil
	}
	switch items[0].(type) {
	case bool:
		bs := make([]bool, len(items))
		for i, it := range items {
			b, ok := it.(bool)
			if !ok {
				return Value{}, mixedArray(i, it)
			}
			bs[i] = b
		}
		return Value{kind: KindBoolArray, bs: bs}, nil
	case string:
		ss := make([]string, len(items))
		for i, it := range items {
			s, ok := it.(string)
			if !ok {
				return Value{}, mixedArray(i, it)
			}
			ss[i] = s
		}
		return Value{kind: KindStringArray, ss: ss}, nil
	}
	ns := make([]float64, len(items))
	for i, it := range items {
		n, ok := toNumber(it)
		if !ok {
			return Value{}, mixedArray(i, it)
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return Value{}, fmt.Errorf("%w: element %d is %v", ErrUnsupportedValue, i, n)
		}
		ns[i] = n
	}
	return Value{kind: KindNumberArray, ns: ns}, nil
}

func mixedArray(i int, it any) error {
	desc := fmt.Sprintf("%T", it)
	if it == nil {
		desc = "null"
	}
	return fmt.Errorf("%w: array element %d is %s", ErrUnsupportedValue, i, desc)
}

func toNumber(x any) (float64, bool) {
	switch t := x.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	default:
		return 0, false
	}
}
