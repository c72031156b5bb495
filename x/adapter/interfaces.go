// Package adapter defines the contract between the hub and its source/sink
// adapters, the registry that builds them by type, and the loop that runs
// each one in its own goroutine.
package adapter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/compose-network/datahub/x/message"
	"github.com/compose-network/datahub/x/pipeline"
	"github.com/compose-network/datahub/x/router"
	"github.com/compose-network/datahub/x/snapshot"
)

// Adapter is one source or sink instance. The hub calls every method from
// the adapter's own loop goroutine except Set, which the supervisor calls
// when runtime settings change.
type Adapter interface {
	// Name returns the configured adapter name.
	Name() string
	// Type returns the registry type tag.
	Type() string

	// Read returns the next message, or nil when nothing is available. It
	// may block briefly on I/O and must honor ctx.
	Read(ctx context.Context) (*message.Message, error)
	// Process handles one message delivered on a subscribed channel.
	Process(ctx context.Context, msg *message.Message) error
	// Action runs periodic housekeeping once per loop iteration.
	Action(ctx context.Context) error

	// Set applies new runtime settings. Invalid keys are logged and
	// ignored; Set never fails.
	Set(settings snapshot.Settings)

	// Close releases resources. It is called once, from the loop goroutine,
	// when the loop ends.
	Close() error
}

// Reporter is implemented by adapters that expose extra status, such as a
// dispatcher's buffer size.
type Reporter interface {
	Stats() map[string]any
}

// Deps is everything a factory may need to build an adapter. Adapters get
// their router endpoint here and never see other adapters.
type Deps struct {
	Name     string
	Init     snapshot.Settings
	Runtime  snapshot.Settings
	Log      zerolog.Logger
	Endpoint *router.Endpoint
	Store    *snapshot.Store
	Pipeline *pipeline.Pipeline
}

// Factory builds an adapter. Returning an error skips the entry.
type Factory func(deps Deps) (Adapter, error)
