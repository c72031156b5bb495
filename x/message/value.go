package message

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

// ErrNotFinite is returned by ParseValue for NaN and infinities.
var ErrNotFinite = errors.New("message: value is not a finite number")

// Kind tags the numeric representation carried by a Value.
type Kind uint8

const (
	KindInt Kind = iota
	KindUint
	KindFloat
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	default:
		return "unknown"
	}
}

// Value is a single reading. Integral readings stay integers through the
// pipelines; KindUint only appears for unsigned values above math.MaxInt64.
type Value struct {
	kind Kind
	i    int64
	u    uint64
	f    float64
}

// Int returns an integer value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Uint returns an unsigned value, folded into KindInt when it fits.
func Uint(v uint64) Value {
	if v <= math.MaxInt64 {
		return Int(int64(v))
	}
	return Value{kind: KindUint, u: v}
}

// Float returns a float value without integral coercion.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Number returns v as an integer when it is integral and representable,
// otherwise as a float.
func Number(v float64) Value {
	if iv, ok := integral(v); ok {
		return Int(iv)
	}
	return Float(v)
}

// integral reports whether f has no fractional part and fits in an int64.
func integral(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	// 2^63 is exactly representable; anything at or above it overflows.
	if f < -9.223372036854775808e18 || f >= 9.223372036854775808e18 {
		return 0, false
	}
	return int64(f), true
}

func (v Value) Kind() Kind { return v.kind }

// IsInt reports whether the value carries an exact integer.
func (v Value) IsInt() bool { return v.kind == KindInt || v.kind == KindUint }

// Int64 returns the integer value and whether it is exactly representable.
func (v Value) Int64() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindUint:
		return 0, false
	default:
		return integral(v.f)
	}
}

// Uint64 returns the value as uint64 when it is a non-negative integer.
func (v Value) Uint64() (uint64, bool) {
	switch v.kind {
	case KindInt:
		if v.i < 0 {
			return 0, false
		}
		return uint64(v.i), true
	case KindUint:
		return v.u, true
	default:
		if v.f < 0 || v.f != math.Trunc(v.f) || v.f >= 1.8446744073709552e19 {
			return 0, false
		}
		return uint64(v.f), true
	}
}

// Float64 converts the value to float64, possibly losing precision.
func (v Value) Float64() float64 {
	switch v.kind {
	case KindInt:
		return float64(v.i)
	case KindUint:
		return float64(v.u)
	default:
		return v.f
	}
}

// Equal compares kind and value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.i == o.i
	case KindUint:
		return v.u == o.u
	default:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindUint:
		return strconv.FormatUint(v.u, 10)
	default:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	}
}

// MarshalJSON writes the value as a bare JSON number. NaN and Inf have no
// JSON form and are written as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindFloat && (math.IsNaN(v.f) || math.IsInf(v.f, 0)) {
		return []byte("null"), nil
	}
	return []byte(v.String()), nil
}

// UnmarshalJSON accepts any JSON number, keeping integers exact.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Float(math.NaN())
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	parsed, err := ParseValue(n.String())
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseValue parses a decimal field as an integer when possible, otherwise as
// a float. Integral floats such as "20.0" come back as integers.
func ParseValue(s string) (Value, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i), nil
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return Uint(u), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, ErrNotFinite
	}
	return Number(f), nil
}
