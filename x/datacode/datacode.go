// Package datacode implements the fixed-width binary encodings shared with
// upstream firmware. All codes are little-endian.
package datacode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/compose-network/datahub/x/message"
)

var (
	// ErrUnknownCode is returned for a code outside the supported set.
	ErrUnknownCode = errors.New("datacode: unknown code")
	// ErrWidth is returned when the byte slice does not match the code width.
	ErrWidth = errors.New("datacode: wrong byte count")
	// ErrRange is returned when a value does not fit the code.
	ErrRange = errors.New("datacode: value out of range")
)

// Code names one fixed-width encoding.
type Code string

const (
	// None disables binary decoding: fields are taken as values directly.
	None Code = "0"

	Int8    Code = "b"
	Uint8   Code = "B"
	Int16   Code = "h"
	Uint16  Code = "H"
	Int32   Code = "i"
	Uint32  Code = "I"
	Long    Code = "l"
	ULong   Code = "L"
	Int64   Code = "q"
	Uint64  Code = "Q"
	Float32 Code = "f"
	Float64 Code = "d"
	Bool    Code = "?"
	Char    Code = "c"
)

var widths = map[Code]int{
	Int8: 1, Uint8: 1,
	Int16: 2, Uint16: 2,
	Int32: 4, Uint32: 4,
	Long: 4, ULong: 4,
	Int64: 8, Uint64: 8,
	Float32: 4, Float64: 8,
	Bool: 1, Char: 1,
}

// Parse validates s as a code. The empty string and "0" both mean None.
func Parse(s string) (Code, error) {
	if s == "" || Code(s) == None {
		return None, nil
	}
	if _, ok := widths[Code(s)]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCode, s)
	}
	return Code(s), nil
}

// IsNone reports whether c disables binary decoding.
func (c Code) IsNone() bool { return c == "" || c == None }

// Width returns the byte width of c.
func Width(c Code) (int, bool) {
	w, ok := widths[c]
	return w, ok
}

// Decode reads one value encoded with c from b. len(b) must equal the width.
func Decode(c Code, b []byte) (message.Value, error) {
	w, ok := widths[c]
	if !ok {
		return message.Value{}, fmt.Errorf("%w: %q", ErrUnknownCode, string(c))
	}
	if len(b) != w {
		return message.Value{}, fmt.Errorf("%w: code %q wants %d, got %d", ErrWidth, string(c), w, len(b))
	}

	le := binary.LittleEndian
	switch c {
	case Int8:
		return message.Int(int64(int8(b[0]))), nil
	case Uint8, Char:
		return message.Int(int64(b[0])), nil
	case Bool:
		if b[0] != 0 {
			return message.Int(1), nil
		}
		return message.Int(0), nil
	case Int16:
		return message.Int(int64(int16(le.Uint16(b)))), nil
	case Uint16:
		return message.Int(int64(le.Uint16(b))), nil
	case Int32, Long:
		return message.Int(int64(int32(le.Uint32(b)))), nil
	case Uint32, ULong:
		return message.Int(int64(le.Uint32(b))), nil
	case Int64:
		return message.Int(int64(le.Uint64(b))), nil
	case Uint64:
		return message.Uint(le.Uint64(b)), nil
	case Float32:
		return message.Float(float64(math.Float32frombits(le.Uint32(b)))), nil
	default: // Float64
		return message.Float(math.Float64frombits(le.Uint64(b))), nil
	}
}

// Encode writes v with c. Integer codes round non-integral values to the
// nearest integer before the range check.
func Encode(c Code, v message.Value) ([]byte, error) {
	w, ok := widths[c]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCode, string(c))
	}
	b := make([]byte, w)
	le := binary.LittleEndian

	switch c {
	case Float32:
		f := v.Float64()
		if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
			return nil, fmt.Errorf("%w: %v for %q", ErrRange, v, string(c))
		}
		le.PutUint32(b, math.Float32bits(float32(f)))
		return b, nil
	case Float64:
		le.PutUint64(b, math.Float64bits(v.Float64()))
		return b, nil
	case Bool:
		if v.Float64() != 0 {
			b[0] = 1
		}
		return b, nil
	case Uint64:
		u, ok := unsigned(v)
		if !ok {
			return nil, fmt.Errorf("%w: %v for %q", ErrRange, v, string(c))
		}
		le.PutUint64(b, u)
		return b, nil
	}

	i, ok := signed(v)
	if !ok {
		return nil, fmt.Errorf("%w: %v for %q", ErrRange, v, string(c))
	}
	lo, hi := bounds(c)
	if i < lo || i > hi {
		return nil, fmt.Errorf("%w: %d for %q", ErrRange, i, string(c))
	}

	switch w {
	case 1:
		b[0] = byte(i)
	case 2:
		le.PutUint16(b, uint16(i))
	case 4:
		le.PutUint32(b, uint32(i))
	default:
		le.PutUint64(b, uint64(i))
	}
	return b, nil
}

func bounds(c Code) (int64, int64) {
	switch c {
	case Int8:
		return math.MinInt8, math.MaxInt8
	case Uint8, Char:
		return 0, math.MaxUint8
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Uint16:
		return 0, math.MaxUint16
	case Int32, Long:
		return math.MinInt32, math.MaxInt32
	case Uint32, ULong:
		return 0, math.MaxUint32
	default:
		return math.MinInt64, math.MaxInt64
	}
}

func signed(v message.Value) (int64, bool) {
	if i, ok := v.Int64(); ok {
		return i, true
	}
	if v.Kind() != message.KindFloat {
		return 0, false
	}
	return message.Number(math.Round(v.Float64())).Int64()
}

func unsigned(v message.Value) (uint64, bool) {
	if u, ok := v.Uint64(); ok {
		return u, true
	}
	if v.Kind() != message.KindFloat {
		return 0, false
	}
	return message.Float(math.Round(v.Float64())).Uint64()
}
