package supervisor

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/compose-network/datahub/x/adapter"
	"github.com/compose-network/datahub/x/pipeline"
	"github.com/compose-network/datahub/x/router"
	"github.com/compose-network/datahub/x/snapshot"
)

// Config contains all dependencies for Supervisor.
type Config struct {
	Logger zerolog.Logger

	// Registry builds adapters by type.
	Registry *adapter.Registry
	// Router carries messages between adapters; the supervisor pumps it.
	Router *router.Router
	// Store holds the current snapshot; the supervisor is its only writer.
	Store *snapshot.Store
	// Pipeline is handed to every adapter.
	Pipeline *pipeline.Pipeline
	// Loader is polled for new snapshots. Nil disables reloading.
	Loader Loader

	// OnReload is called after a new snapshot is published.
	OnReload func(*snapshot.Snapshot)

	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a config with sensible defaults for optional fields.
func DefaultConfig(logger zerolog.Logger, store *snapshot.Store) Config {
	return Config{
		Logger:   logger,
		Registry: adapter.Default(),
		Router:   router.New(logger),
		Store:    store,
		Pipeline: pipeline.New(store, logger),
		Now:      time.Now,
	}
}
