package snapshot

import (
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"
)

// Settings is a free-form adapter settings table as read from configuration.
type Settings map[string]any

// Clone returns a copy that shares no top-level map or slice with s.
func (s Settings) Clone() Settings {
	if s == nil {
		return Settings{}
	}
	out := make(Settings, len(s))
	for k, v := range s {
		switch tv := v.(type) {
		case []any:
			out[k] = append([]any(nil), tv...)
		case []string:
			out[k] = append([]string(nil), tv...)
		case map[string]any:
			out[k] = Settings(tv).Clone()
		default:
			out[k] = v
		}
	}
	return out
}

// Merge returns a copy of s overlaid with over.
func (s Settings) Merge(over Settings) Settings {
	out := s.Clone()
	for k, v := range over {
		out[k] = v
	}
	return out
}

func (s Settings) String(key string) string {
	return cast.ToString(s[key])
}

func (s Settings) Strings(key string) []string {
	return ToStrings(s[key])
}

func (s Settings) Int(key string) int {
	return cast.ToInt(s[key])
}

func (s Settings) Bool(key string) bool {
	return cast.ToBool(s[key])
}

func (s Settings) Duration(key string) time.Duration {
	return ToDuration(s[key])
}

// ToStrings accepts a list or a single string.
func ToStrings(v any) []string {
	switch tv := v.(type) {
	case nil:
		return nil
	case string:
		if tv == "" {
			return nil
		}
		return []string{tv}
	default:
		return cast.ToStringSlice(v)
	}
}

// ToDuration treats bare numbers as seconds, matching how intervals are
// written in hand-edited config files.
func ToDuration(v any) time.Duration {
	switch v.(type) {
	case int, int32, int64, float32, float64, uint, uint32, uint64:
		return time.Duration(cast.ToFloat64(v) * float64(time.Second))
	}
	return cast.ToDuration(v)
}

// Decode fills out from s using weak typing, so "10" decodes into an int
// field and "5s" into a time.Duration.
func (s Settings) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(s))
}
