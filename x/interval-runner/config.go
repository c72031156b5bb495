package intervalrunner

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = 100 * time.Millisecond

// Config configures a LocalIntervalRunner.
type Config struct {
	// Handler is the function invoked on every tick.
	Handler TickCallback
	// Interval is the tick period.
	Interval time.Duration
	// Now returns the current time. Defaults to time.Now if nil.
	Now    func() time.Time
	Logger zerolog.Logger
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig(logger zerolog.Logger) Config {
	return Config{
		Handler:  nil, // Set later by the owner
		Interval: DefaultInterval,
		Now:      time.Now,
		Logger:   logger.With().Str("component", "interval-runner").Logger(),
	}
}
