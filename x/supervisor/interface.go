package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/compose-network/datahub/x/snapshot"
)

// ErrNotModified is returned by a Loader when the configuration source has
// not changed since the last load.
var ErrNotModified = errors.New("supervisor: configuration not modified")

// Loader produces configuration snapshots. It is polled on the reload
// interval.
type Loader interface {
	Load(ctx context.Context) (*snapshot.Snapshot, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (*snapshot.Snapshot, error)

func (f LoaderFunc) Load(ctx context.Context) (*snapshot.Snapshot, error) { return f(ctx) }

// State is the supervisor lifecycle state.
type State string

const (
	StateIdle         State = "IDLE"
	StateRunning      State = "RUNNING"
	StateShuttingDown State = "SHUTTING_DOWN"
	StateStopped      State = "STOPPED"
)

// AdapterStatus describes one configured adapter.
type AdapterStatus struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Alive       bool           `json:"alive"`
	StartedAt   time.Time      `json:"started_at,omitzero"`
	Restarts    int            `json:"restarts"`
	Failures    int            `json:"construct_failures,omitempty"`
	NextAttempt time.Time      `json:"next_attempt,omitzero"`
	Error       string         `json:"error,omitempty"`
	Stats       map[string]any `json:"stats,omitempty"`
}

// Stats summarizes the supervisor.
type Stats struct {
	State          State     `json:"state"`
	Ticks          uint64    `json:"ticks"`
	ConfigVersion  uint64    `json:"config_version"`
	ConfigLoadedAt time.Time `json:"config_loaded_at,omitzero"`
	AdaptersActive int       `json:"adapters_active"`
	AdaptersFailed int       `json:"adapters_failed"`
	Deliveries     uint64    `json:"deliveries"`
}
