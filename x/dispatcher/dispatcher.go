// Package dispatcher batches buffered items and delivers them to a remote
// sink, retrying failed batches until they are acknowledged.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/compose-network/datahub/x/buffer"
)

// Sink delivers one batch. A nil error must mean the remote system durably
// accepted every item in the batch.
type Sink interface {
	Send(ctx context.Context, batch [][]byte) error
	// MaxItems limits the batch size. Zero means no limit.
	MaxItems() int
}

// State is the flush state.
type State int

const (
	StateIdle State = iota
	StateSending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSending:
		return "SENDING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stats is a point-in-time view of a dispatcher.
type Stats struct {
	State               string    `json:"state"`
	Pause               PauseMode `json:"pause"`
	BufferSize          int       `json:"buffer_size"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	LastFailure         time.Time `json:"last_failure,omitzero"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Dispatcher owns a buffer and a sink.
type Dispatcher struct {
	name    string
	buf     buffer.Buffer
	sink    Sink
	log     zerolog.Logger
	metrics *dispatcherMetrics
	now     func() time.Time

	flushMu sync.Mutex

	mu          sync.Mutex
	cfg         Config
	state       State
	lastSuccess time.Time
	lastFailure time.Time
	failures    int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a dispatcher. The dispatcher closes buf on Close.
func New(name string, buf buffer.Buffer, sink Sink, cfg Config, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		name:    name,
		buf:     buf,
		sink:    sink,
		log:     log.With().Str("component", "dispatcher").Str("dispatcher", name).Logger(),
		metrics: newMetrics(),
		now:     time.Now,
		cfg:     cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.metrics.bufferItems.WithLabelValues(name).Set(float64(buf.Size()))
	return d
}

// Configure replaces the runtime settings.
func (d *Dispatcher) Configure(cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg.withDefaults()
}

// Config returns the active settings.
func (d *Dispatcher) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Add stores item for later delivery.
func (d *Dispatcher) Add(item []byte) error {
	d.mu.Lock()
	paused := d.cfg.Pause.InputPaused()
	d.mu.Unlock()

	if paused {
		d.metrics.rejected.WithLabelValues(d.name).Inc()
		return ErrInputPaused
	}
	if err := d.buf.Store(item); err != nil {
		return fmt.Errorf("storing item: %w", err)
	}
	d.metrics.bufferItems.WithLabelValues(d.name).Set(float64(d.buf.Size()))
	return nil
}

// Tick flushes when output is not paused and the interval gates allow it.
// It returns the flush error, if a flush was attempted.
func (d *Dispatcher) Tick(ctx context.Context) error {
	if !d.due() {
		return nil
	}
	return d.Flush(ctx)
}

func (d *Dispatcher) due() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg.Pause.OutputPaused() {
		return false
	}
	now := d.now()
	if d.cfg.Interval > 0 && !d.lastSuccess.IsZero() && now.Sub(d.lastSuccess) < d.cfg.Interval {
		return false
	}
	if d.failures > 0 && now.Sub(d.lastFailure) < d.cfg.RetryInterval {
		return false
	}
	return true
}

// Flush sends up to min(BatchSize, sink limit) items. On success exactly
// that many items are discarded and the last-success time advances; on
// failure the buffer and the last-success time are left untouched.
func (d *Dispatcher) Flush(ctx context.Context) error {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	d.mu.Lock()
	n := d.cfg.BatchSize
	d.mu.Unlock()
	if limit := d.sink.MaxItems(); limit > 0 {
		n = min(n, limit)
	}

	batch, err := d.buf.Peek(n)
	if err != nil {
		return fmt.Errorf("peeking buffer: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	d.setState(StateSending)
	err = d.sink.Send(ctx, batch)
	d.setState(StateIdle)

	if err != nil {
		d.mu.Lock()
		d.lastFailure = d.now()
		d.failures++
		failures := d.failures
		d.mu.Unlock()

		d.metrics.flushes.WithLabelValues(d.name, "failure").Inc()
		d.log.Warn().
			Err(err).
			Int("batch", len(batch)).
			Int("buffered", d.buf.Size()).
			Int("consecutive_failures", failures).
			Msg("Batch delivery failed, will retry")
		return err
	}

	if err := d.buf.Discard(len(batch)); err != nil {
		return fmt.Errorf("discarding delivered batch: %w", err)
	}

	d.mu.Lock()
	d.lastSuccess = d.now()
	d.failures = 0
	d.mu.Unlock()

	d.metrics.flushes.WithLabelValues(d.name, "success").Inc()
	d.metrics.batchSize.WithLabelValues(d.name).Observe(float64(len(batch)))
	d.metrics.bufferItems.WithLabelValues(d.name).Set(float64(d.buf.Size()))
	d.log.Debug().Int("batch", len(batch)).Msg("Batch delivered")
	return nil
}

func (d *Dispatcher) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// LastSuccess returns the time of the last acknowledged flush.
func (d *Dispatcher) LastSuccess() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSuccess
}

// Size returns the number of buffered items.
func (d *Dispatcher) Size() int { return d.buf.Size() }

// Stats returns a snapshot for status reporting.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		State:               d.state.String(),
		Pause:               d.cfg.Pause,
		BufferSize:          d.buf.Size(),
		LastSuccess:         d.lastSuccess,
		LastFailure:         d.lastFailure,
		ConsecutiveFailures: d.failures,
	}
}

// Close closes the buffer. Persistent buffers keep undelivered items.
func (d *Dispatcher) Close() error {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()
	return d.buf.Close()
}
