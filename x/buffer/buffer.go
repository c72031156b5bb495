// Package buffer provides the bounded FIFO item stores used by dispatchers.
//
// Items are opaque byte payloads. Peek returns items without removing them;
// Discard(n) removes at most n items, and only items at or before the last
// peeked position, so items stored after a Peek are never discarded by the
// matching Discard. On overflow the oldest item is evicted before the new
// one is stored.
package buffer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/compose-network/datahub/metrics"
)

var (
	// ErrClosed is returned by operations on a closed buffer.
	ErrClosed = errors.New("buffer: closed")
	// ErrInvalidConfig is returned for unusable buffer settings.
	ErrInvalidConfig = errors.New("buffer: invalid config")
)

// Buffer is a bounded, ordered item store.
type Buffer interface {
	Store(item []byte) error
	Peek(n int) ([][]byte, error)
	Discard(n int) error
	HasItems() bool
	IsFull() bool
	Size() int
	Close() error
}

// Kind selects a buffer implementation.
type Kind string

const (
	KindMemory Kind = "memory"
	KindSQLite Kind = "sqlite"
)

// DeleteMode selects how the persistent buffer removes delivered items.
type DeleteMode string

const (
	// DeleteSoft marks rows processed and keeps them.
	DeleteSoft DeleteMode = "soft"
	// DeleteHard removes rows.
	DeleteHard DeleteMode = "hard"
)

// DefaultCapacity is used when no capacity is configured.
const DefaultCapacity = 10000

// Config describes a buffer. It is decoded from adapter init settings.
type Config struct {
	Type       Kind       `mapstructure:"type"`
	MaxItems   int        `mapstructure:"max_items"`
	Path       string     `mapstructure:"path"`
	Table      string     `mapstructure:"table"`
	DeleteMode DeleteMode `mapstructure:"delete_mode"`
}

// DefaultConfig returns an in-memory buffer config.
func DefaultConfig() Config {
	return Config{
		Type:       KindMemory,
		MaxItems:   DefaultCapacity,
		Table:      "buffer",
		DeleteMode: DeleteHard,
	}
}

// Validate checks the config and fills defaults.
func (c *Config) Validate() error {
	d := DefaultConfig()
	if c.Type == "" {
		c.Type = d.Type
	}
	c.Type = Kind(strings.ToLower(string(c.Type)))
	if c.MaxItems <= 0 {
		c.MaxItems = d.MaxItems
	}
	if c.Table == "" {
		c.Table = d.Table
	}
	if c.DeleteMode == "" {
		c.DeleteMode = d.DeleteMode
	}
	c.DeleteMode = DeleteMode(strings.ToLower(string(c.DeleteMode)))

	switch c.Type {
	case KindMemory:
	case KindSQLite:
		if c.Path == "" {
			return fmt.Errorf("%w: sqlite buffer requires path", ErrInvalidConfig)
		}
		if !validTable(c.Table) {
			return fmt.Errorf("%w: table name %q", ErrInvalidConfig, c.Table)
		}
		if c.DeleteMode != DeleteSoft && c.DeleteMode != DeleteHard {
			return fmt.Errorf("%w: delete_mode %q", ErrInvalidConfig, c.DeleteMode)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidConfig, c.Type)
	}
	return nil
}

// New builds the buffer described by cfg. name labels logs and metrics.
func New(name string, cfg Config, log zerolog.Logger) (Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case KindSQLite:
		return OpenSQLite(name, cfg, log)
	default:
		return NewMemory(name, cfg.MaxItems, log), nil
	}
}

func validTable(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

type bufferMetrics struct {
	evictions *prometheus.CounterVec
}

func newBufferMetrics() *bufferMetrics {
	reg := metrics.NewComponentRegistry("buffer")
	return &bufferMetrics{
		evictions: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "evictions_total",
			Help: "Items evicted because the buffer was full",
		}, []string{"buffer", "type"}),
	}
}

func (m *bufferMetrics) recordEviction(name string, kind Kind) {
	m.evictions.WithLabelValues(name, string(kind)).Inc()
}
