// Package snapshot holds the immutable configuration view shared by the
// supervisor, the adapters and the pipelines. A reload builds a new Snapshot
// and publishes it with Store.Swap; nothing mutates a published Snapshot.
package snapshot

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/compose-network/datahub/x/datacode"
	"github.com/compose-network/datahub/x/message"
)

// ErrInvalidAdapter is returned for adapter entries without a type.
var ErrInvalidAdapter = errors.New("snapshot: invalid adapter entry")

// HubSettings are the hub-wide knobs.
type HubSettings struct {
	TickInterval        time.Duration `mapstructure:"tick_interval"         yaml:"tick_interval"`
	ReloadInterval      time.Duration `mapstructure:"reload_interval"       yaml:"reload_interval"`
	ConstructRetryMax   time.Duration `mapstructure:"construct_retry_max"   yaml:"construct_retry_max"`
	AdapterLoopInterval time.Duration `mapstructure:"adapter_loop_interval" yaml:"adapter_loop_interval"`
	LogLevel            string        `mapstructure:"-"                     yaml:"-"`
}

// DefaultHubSettings returns the defaults used when a field is unset.
func DefaultHubSettings() HubSettings {
	return HubSettings{
		TickInterval:        100 * time.Millisecond,
		ReloadInterval:      time.Second,
		ConstructRetryMax:   time.Minute,
		AdapterLoopInterval: 100 * time.Millisecond,
		LogLevel:            "info",
	}
}

// RawAdapter is one adapter entry as written in the config document.
type RawAdapter struct {
	Type    string         `mapstructure:"type"    yaml:"type"`
	Init    map[string]any `mapstructure:"init"    yaml:"init,omitempty"`
	Runtime map[string]any `mapstructure:"runtime" yaml:"runtime,omitempty"`
}

// RawSource is one source schema as written in the config document.
type RawSource struct {
	Datacode  string   `mapstructure:"datacode"  yaml:"datacode,omitempty"`
	Datacodes []string `mapstructure:"datacodes" yaml:"datacodes,omitempty"`
	Scale     string   `mapstructure:"scale"     yaml:"scale,omitempty"`
	Scales    []string `mapstructure:"scales"    yaml:"scales,omitempty"`
	Names     []string `mapstructure:"names"     yaml:"names,omitempty"`
}

// AdapterSpec is a validated adapter entry.
type AdapterSpec struct {
	Type    string
	Init    Settings
	Runtime Settings
}

// SourceSchema describes how to decode and scale frames from one source.
// A nil Datacode or Scale means "not set here"; an explicit "1" scale or "0"
// datacode is a real value and overrides the adapter default.
type SourceSchema struct {
	Datacode  *datacode.Code
	Datacodes []datacode.Code
	Scale     *Scale
	Scales    []Scale
	Names     []string
}

// Snapshot is one complete configuration generation.
type Snapshot struct {
	Version  uint64
	LoadedAt time.Time
	Hub      HubSettings
	Adapters map[string]AdapterSpec
	Sources  map[string]SourceSchema
}

// Empty returns a snapshot with defaults and no adapters.
func Empty() *Snapshot {
	return &Snapshot{
		Hub:      DefaultHubSettings(),
		Adapters: map[string]AdapterSpec{},
		Sources:  map[string]SourceSchema{},
	}
}

// Source returns the schema for id, if any.
func (s *Snapshot) Source(id string) (SourceSchema, bool) {
	schema, ok := s.Sources[message.NormalizeID(id)]
	return schema, ok
}

// Build validates a config document and turns it into a Snapshot.
func Build(hub HubSettings, adapters map[string]RawAdapter, sources map[string]RawSource) (*Snapshot, error) {
	snap := &Snapshot{
		LoadedAt: time.Now(),
		Hub:      withDefaults(hub),
		Adapters: make(map[string]AdapterSpec, len(adapters)),
		Sources:  make(map[string]SourceSchema, len(sources)),
	}

	var errs []error
	for name, raw := range adapters {
		if strings.TrimSpace(raw.Type) == "" {
			errs = append(errs, fmt.Errorf("%w: adapters.%s.type is required", ErrInvalidAdapter, name))
			continue
		}
		snap.Adapters[name] = AdapterSpec{
			Type:    strings.TrimSpace(raw.Type),
			Init:    Settings(raw.Init).Clone(),
			Runtime: Settings(raw.Runtime).Clone(),
		}
	}

	for id, raw := range sources {
		schema, err := BuildSource(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("sources.%s: %w", id, err))
			continue
		}
		snap.Sources[message.NormalizeID(id)] = schema
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return snap, nil
}

// BuildSource parses one source schema.
func BuildSource(raw RawSource) (SourceSchema, error) {
	var schema SourceSchema

	if raw.Datacode != "" {
		code, err := datacode.Parse(raw.Datacode)
		if err != nil {
			return schema, err
		}
		schema.Datacode = &code
	}
	for _, c := range raw.Datacodes {
		code, err := datacode.Parse(c)
		if err != nil {
			return schema, err
		}
		if code.IsNone() {
			return schema, fmt.Errorf("%w: positional datacodes cannot be %q", datacode.ErrUnknownCode, c)
		}
		schema.Datacodes = append(schema.Datacodes, code)
	}

	if raw.Scale != "" {
		sc, err := ParseScale(raw.Scale)
		if err != nil {
			return schema, err
		}
		schema.Scale = &sc
	}
	for _, s := range raw.Scales {
		sc, err := ParseScale(s)
		if err != nil {
			return schema, err
		}
		schema.Scales = append(schema.Scales, sc)
	}

	if len(raw.Datacodes) > 0 && len(raw.Scales) > 0 && len(raw.Datacodes) != len(raw.Scales) {
		return schema, fmt.Errorf("%w: %d datacodes but %d scales", ErrInvalidScale, len(raw.Datacodes), len(raw.Scales))
	}

	schema.Names = append([]string(nil), raw.Names...)
	return schema, nil
}

func withDefaults(h HubSettings) HubSettings {
	d := DefaultHubSettings()
	if h.TickInterval <= 0 {
		h.TickInterval = d.TickInterval
	}
	if h.ReloadInterval <= 0 {
		h.ReloadInterval = d.ReloadInterval
	}
	if h.ConstructRetryMax <= 0 {
		h.ConstructRetryMax = d.ConstructRetryMax
	}
	if h.AdapterLoopInterval <= 0 {
		h.AdapterLoopInterval = d.AdapterLoopInterval
	}
	if h.LogLevel == "" {
		h.LogLevel = d.LogLevel
	}
	return h
}

// Store publishes snapshots to concurrent readers.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore returns a store holding initial, or Empty() when initial is nil.
func NewStore(initial *Snapshot) *Store {
	if initial == nil {
		initial = Empty()
	}
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Load returns the current snapshot. Callers must treat it as read-only.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Swap publishes next, stamping it with the following version, and returns
// the snapshot it replaced. next must not be shared before the call, and
// only one goroutine may publish.
func (s *Store) Swap(next *Snapshot) *Snapshot {
	prev := s.current.Load()
	next.Version = prev.Version + 1
	s.current.Store(next)
	return prev
}
