package snapshot

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/compose-network/datahub/x/message"
)

// ErrInvalidScale is returned for scales that are zero, non-finite or unparsable.
var ErrInvalidScale = errors.New("snapshot: invalid scale")

// Scale is a parsed multiplier. Integral factors keep integer readings exact.
type Scale struct {
	text     string
	factor   float64
	integral bool
	intValue int64
}

// ParseScale parses a decimal scale such as "1", "0.01" or "-2".
func ParseScale(s string) (Scale, error) {
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Scale{}, fmt.Errorf("%w: %q", ErrInvalidScale, s)
	}
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return Scale{}, fmt.Errorf("%w: %q", ErrInvalidScale, s)
	}
	sc := Scale{text: s, factor: f}
	if n := message.Number(f); n.Kind() == message.KindInt {
		sc.intValue, sc.integral = n.Int64()
	}
	return sc, nil
}

// MustScale is ParseScale for literals known to be valid.
func MustScale(s string) Scale {
	sc, err := ParseScale(s)
	if err != nil {
		panic(err)
	}
	return sc
}

func (s Scale) String() string { return s.text }

// Factor returns the multiplier as float64.
func (s Scale) Factor() float64 { return s.factor }

// IsIdentity reports whether the scale is exactly 1.
func (s Scale) IsIdentity() bool { return s.integral && s.intValue == 1 }

// Apply multiplies v by the scale. The result is an integer whenever it is
// integral.
func (s Scale) Apply(v message.Value) message.Value {
	if s.IsIdentity() {
		return v
	}
	if s.integral {
		if i, ok := v.Int64(); ok && v.IsInt() {
			if p, ok := mulExact(i, s.intValue); ok {
				return message.Int(p)
			}
		}
	}
	return message.Number(v.Float64() * s.factor)
}

// Invert divides v by the scale, the outbound mirror of Apply.
func (s Scale) Invert(v message.Value) message.Value {
	if s.IsIdentity() {
		return v
	}
	if s.integral {
		i, ok := v.Int64()
		if ok && v.IsInt() && i%s.intValue == 0 && !(i == math.MinInt64 && s.intValue == -1) {
			return message.Int(i / s.intValue)
		}
	}
	return message.Number(v.Float64() / s.factor)
}

func mulExact(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	if p/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	return p, true
}
