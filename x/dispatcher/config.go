package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInputPaused is returned by Add while input is paused.
	ErrInputPaused = errors.New("dispatcher: input paused")
	// ErrInvalidPause is returned for unknown pause modes.
	ErrInvalidPause = errors.New("dispatcher: invalid pause mode")
)

// PauseMode suppresses adding, flushing, or both.
type PauseMode string

const (
	PauseOff PauseMode = "off"
	PauseIn  PauseMode = "in"
	PauseOut PauseMode = "out"
	PauseAll PauseMode = "all"
)

// ParsePauseMode accepts off, in, out and all. Empty means off.
func ParsePauseMode(s string) (PauseMode, error) {
	switch m := PauseMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", PauseOff:
		return PauseOff, nil
	case PauseIn, PauseOut, PauseAll:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPause, s)
	}
}

// InputPaused reports whether Add is suppressed.
func (m PauseMode) InputPaused() bool { return m == PauseIn || m == PauseAll }

// OutputPaused reports whether flushing is suppressed.
func (m PauseMode) OutputPaused() bool { return m == PauseOut || m == PauseAll }

// Config holds the runtime-tunable dispatcher settings.
type Config struct {
	// BatchSize caps the items sent per flush.
	BatchSize int
	// Interval is the minimum time between successful flushes. Zero flushes
	// on every tick.
	Interval time.Duration
	// RetryInterval is the wait after a failed flush before the next
	// attempt.
	RetryInterval time.Duration
	Pause         PauseMode
}

// DefaultConfig returns the defaults used for unset fields.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		RetryInterval: 5 * time.Second,
		Pause:         PauseOff,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Interval < 0 {
		c.Interval = 0
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = max(c.Interval, d.RetryInterval)
	}
	if c.Pause == "" {
		c.Pause = d.Pause
	}
	return c
}
