package adapter

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/compose-network/datahub/x/datacode"
	"github.com/compose-network/datahub/x/dispatcher"
	"github.com/compose-network/datahub/x/message"
	"github.com/compose-network/datahub/x/pipeline"
	"github.com/compose-network/datahub/x/router"
	"github.com/compose-network/datahub/x/snapshot"
)

// BaseAdapter provides a default, embeddable implementation of Adapter.
//
// It owns runtime settings validation: only whitelisted keys are kept, each
// value is normalized by its Key, and anything else is logged and dropped.
// The channel keys are applied to the router endpoint and datacode/scale
// become the pipeline defaults. Embedding types override the loop methods
// they need; the rest are no-ops.
type BaseAdapter struct {
	name     string
	typ      string
	log      zerolog.Logger
	endpoint *router.Endpoint
	pipeline *pipeline.Pipeline
	keys     map[string]Key

	mu       sync.RWMutex
	runtime  snapshot.Settings
	defaults pipeline.Defaults
	pause    dispatcher.PauseMode
}

// NewBaseAdapter creates a BaseAdapter accepting the common runtime keys
// plus extra, and applies deps.Runtime.
func NewBaseAdapter(typ string, deps Deps, extra ...Key) *BaseAdapter {
	b := &BaseAdapter{
		name: deps.Name,
		typ:  typ,
		log: deps.Log.With().
			Str("adapter", deps.Name).
			Str("type", typ).
			Logger(),
		endpoint: deps.Endpoint,
		pipeline: deps.Pipeline,
		keys:     make(map[string]Key),
		pause:    dispatcher.PauseOff,
	}
	for _, k := range append(baseKeys(), extra...) {
		b.keys[k.Name] = k
	}
	b.Set(deps.Runtime)
	return b
}

func (b *BaseAdapter) Name() string { return b.name }
func (b *BaseAdapter) Type() string { return b.typ }

// Log returns the adapter-scoped logger.
func (b *BaseAdapter) Log() *zerolog.Logger { return &b.log }

// Endpoint returns the router endpoint.
func (b *BaseAdapter) Endpoint() *router.Endpoint { return b.endpoint }

// Pipeline returns the shared decode/encode pipeline.
func (b *BaseAdapter) Pipeline() *pipeline.Pipeline { return b.pipeline }

// Set validates settings against the whitelist and replaces the runtime
// settings with the accepted subset.
func (b *BaseAdapter) Set(settings snapshot.Settings) {
	accepted := make(snapshot.Settings, len(settings))
	for key, raw := range settings {
		k, ok := b.keys[key]
		if !ok {
			b.log.Warn().Str("key", key).Msg("Unknown runtime setting ignored")
			continue
		}
		v, err := k.Parse(raw)
		if err != nil {
			b.log.Warn().Err(err).Str("key", key).Interface("value", raw).Msg("Invalid runtime setting ignored")
			continue
		}
		accepted[key] = v
	}

	var defaults pipeline.Defaults
	if c, ok := accepted[KeyDatacode].(datacode.Code); ok {
		defaults.Datacode = c
	}
	if s, ok := accepted[KeyScale].(snapshot.Scale); ok {
		defaults.Scale = &s
	}
	pause := dispatcher.PauseOff
	if p, ok := accepted[KeyPause].(dispatcher.PauseMode); ok {
		pause = p
	}

	b.mu.Lock()
	b.runtime = accepted
	b.defaults = defaults
	b.pause = pause
	b.mu.Unlock()

	if b.endpoint != nil {
		pubs, _ := accepted[KeyPubChannels].([]string)
		subs, _ := accepted[KeySubChannels].([]string)
		b.endpoint.SetChannels(pubs, subs)
	}
}

// Runtime returns a copy of the accepted runtime settings, with values in
// their normalized types.
func (b *BaseAdapter) Runtime() snapshot.Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.runtime.Clone()
}

// Defaults returns the adapter-level pipeline defaults.
func (b *BaseAdapter) Defaults() pipeline.Defaults {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.defaults
}

// Pause returns the configured pause mode.
func (b *BaseAdapter) Pause() dispatcher.PauseMode {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pause
}

// Read is a no-op for adapters that produce nothing.
func (b *BaseAdapter) Read(context.Context) (*message.Message, error) { return nil, nil }

// Process is a no-op for adapters that consume nothing.
func (b *BaseAdapter) Process(context.Context, *message.Message) error { return nil }

// Action is a no-op.
func (b *BaseAdapter) Action(context.Context) error { return nil }

// Close is a no-op.
func (b *BaseAdapter) Close() error { return nil }
