// Package message defines the canonical envelope that moves readings between
// adapters, and the factory that allocates it.
package message

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNamesMismatch is returned by Validate when names and values diverge.
var ErrNamesMismatch = errors.New("message: names and values differ in length")

// lastID is the process-wide id sequence. Ids are never reused.
var lastID atomic.Uint64

// Message carries one reading set from a source.
type Message struct {
	ID            uint64
	Timestamp     time.Time
	SourceID      string
	TargetID      string
	Names         []string
	Values        []Value
	Raw           string
	SignalQuality *int

	mu      sync.Mutex
	encoded map[string][]byte
}

// Option customizes a Message at creation.
type Option func(*Message)

// WithTimestamp overrides the default creation time.
func WithTimestamp(ts time.Time) Option {
	return func(m *Message) {
		if !ts.IsZero() {
			m.Timestamp = ts
		}
	}
}

// WithTarget sets the destination id used by outbound encoding.
func WithTarget(targetID string) Option {
	return func(m *Message) { m.TargetID = NormalizeID(targetID) }
}

// WithRaw keeps the original wire text for diagnostics.
func WithRaw(raw string) Option {
	return func(m *Message) { m.Raw = raw }
}

// WithSignalQuality attaches a radio signal quality reading.
func WithSignalQuality(q int) Option {
	return func(m *Message) { m.SignalQuality = &q }
}

// WithValues sets the readings.
func WithValues(values ...Value) Option {
	return func(m *Message) { m.Values = values }
}

// WithNames sets the reading labels.
func WithNames(names ...string) Option {
	return func(m *Message) { m.Names = names }
}

// New allocates a Message with the next id and the current time.
func New(sourceID string, opts ...Option) *Message {
	m := &Message{
		ID:        lastID.Add(1),
		Timestamp: time.Now(),
		SourceID:  NormalizeID(sourceID),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NormalizeID trims whitespace, canonicalizes numeric ids and lower-cases the
// rest, so " 007" and "7" name the same source, as do "EmonTx" and "emontx".
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return strings.ToLower(id)
}

// Destination returns the id used to look up outbound schemas: the target
// when set, otherwise the source.
func (m *Message) Destination() string {
	if m.TargetID != "" {
		return m.TargetID
	}
	return m.SourceID
}

// Validate checks the names/values invariant.
func (m *Message) Validate() error {
	if len(m.Names) > 0 && len(m.Names) != len(m.Values) {
		return fmt.Errorf("%w: %d names, %d values", ErrNamesMismatch, len(m.Names), len(m.Values))
	}
	return nil
}

// SetEncoded stores the payload encoded for one destination adapter. Each
// destination owns its own slot.
func (m *Message) SetEncoded(destination string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.encoded == nil {
		m.encoded = make(map[string][]byte)
	}
	m.encoded[destination] = payload
}

// Encoded returns the payload previously stored for destination.
func (m *Message) Encoded(destination string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.encoded[destination]
	return payload, ok
}

// Unix returns the timestamp in fractional seconds.
func (m *Message) Unix() float64 {
	return float64(m.Timestamp.Unix()) + float64(m.Timestamp.Nanosecond())/1e9
}
