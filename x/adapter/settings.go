package adapter

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cast"

	"github.com/compose-network/datahub/x/datacode"
	"github.com/compose-network/datahub/x/dispatcher"
	"github.com/compose-network/datahub/x/snapshot"
)

// Key is one whitelisted runtime setting. Parse validates a raw value and
// returns its normalized form.
type Key struct {
	Name  string
	Parse func(v any) (any, error)
}

// Runtime keys understood by every adapter.
const (
	KeyPubChannels = "pubchannels"
	KeySubChannels = "subchannels"
	KeyDatacode    = "datacode"
	KeyScale       = "scale"
	KeyPause       = "pause"
)

func baseKeys() []Key {
	return []Key{
		StringsKey(KeyPubChannels),
		StringsKey(KeySubChannels),
		{Name: KeyDatacode, Parse: func(v any) (any, error) {
			s, err := cast.ToStringE(v)
			if err != nil {
				return nil, err
			}
			return datacode.Parse(s)
		}},
		{Name: KeyScale, Parse: func(v any) (any, error) {
			s, err := cast.ToStringE(v)
			if err != nil {
				return nil, err
			}
			return snapshot.ParseScale(s)
		}},
		{Name: KeyPause, Parse: func(v any) (any, error) {
			s, err := cast.ToStringE(v)
			if err != nil {
				return nil, err
			}
			return dispatcher.ParsePauseMode(s)
		}},
	}
}

// StringKey accepts any scalar convertible to a string.
func StringKey(name string) Key {
	return Key{Name: name, Parse: func(v any) (any, error) { return cast.ToStringE(v) }}
}

// StringsKey accepts a list or a comma/space separated string.
func StringsKey(name string) Key {
	return Key{Name: name, Parse: func(v any) (any, error) {
		switch tv := v.(type) {
		case string:
			return strings.FieldsFunc(tv, func(r rune) bool { return r == ',' || unicode.IsSpace(r) }), nil
		case []string, []any:
			return snapshot.ToStrings(v), nil
		default:
			return nil, fmt.Errorf("%w: %s must be a list, got %T", ErrInvalidSetting, name, v)
		}
	}}
}

// IntKey accepts integers of at least minimum.
func IntKey(name string, minimum int) Key {
	return Key{Name: name, Parse: func(v any) (any, error) {
		n, err := cast.ToIntE(v)
		if err != nil {
			return nil, err
		}
		if n < minimum {
			return nil, fmt.Errorf("%w: %s must be >= %d, got %d", ErrInvalidSetting, name, minimum, n)
		}
		return n, nil
	}}
}

// DurationKey accepts Go duration strings or bare numbers of seconds.
func DurationKey(name string) Key {
	return Key{Name: name, Parse: func(v any) (any, error) {
		d := snapshot.ToDuration(v)
		if d < 0 {
			return nil, fmt.Errorf("%w: %s must not be negative", ErrInvalidSetting, name)
		}
		if d == 0 && !isZero(v) {
			return nil, fmt.Errorf("%w: %s is not a duration: %v", ErrInvalidSetting, name, v)
		}
		return d, nil
	}}
}

// BoolKey accepts booleans and their usual string forms.
func BoolKey(name string) Key {
	return Key{Name: name, Parse: func(v any) (any, error) { return cast.ToBoolE(v) }}
}

func isZero(v any) bool {
	switch x := v.(type) {
	case time.Duration:
		return x == 0
	case string:
		return x == "0" || x == "0s"
	default:
		f, err := cast.ToFloat64E(v)
		return err == nil && f == 0
	}
}
