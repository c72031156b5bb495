// Package intervalrunner calls a handler on a fixed interval without ever
// overlapping calls. Ticks missed while a handler overruns are coalesced
// into the next call.
package intervalrunner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// LocalIntervalRunner implements IntervalRunner with a local timer.
type LocalIntervalRunner struct {
	log zerolog.Logger
	now func() time.Time

	interval atomic.Int64

	mu      sync.Mutex
	handler TickCallback
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLocalIntervalRunner constructs a runner. If cfg.Handler is nil,
// SetHandler must be called before Start.
func NewLocalIntervalRunner(cfg Config) *LocalIntervalRunner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	r := &LocalIntervalRunner{
		log:     cfg.Logger,
		now:     cfg.Now,
		handler: cfg.Handler,
	}
	r.interval.Store(int64(cfg.Interval))
	return r
}

// SetHandler sets the handler. It should be called before Start; otherwise
// Start will panic.
func (r *LocalIntervalRunner) SetHandler(handler TickCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
}

// SetInterval changes the period. Non-positive values are ignored.
func (r *LocalIntervalRunner) SetInterval(d time.Duration) {
	if d > 0 {
		r.interval.Store(int64(d))
	}
}

// Interval returns the current period.
func (r *LocalIntervalRunner) Interval() time.Duration {
	return time.Duration(r.interval.Load())
}

// Start begins ticking until the context is canceled or Stop is called.
// The first tick fires immediately.
func (r *LocalIntervalRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handler == nil {
		panic("intervalrunner: LocalIntervalRunner requires a handler to start")
	}
	if r.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(runCtx, r.handler, r.done)
	return nil
}

// Stop halts the runner and waits for the current tick to finish, or for
// ctx to end.
func (r *LocalIntervalRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *LocalIntervalRunner) run(ctx context.Context, handler TickCallback, done chan struct{}) {
	defer close(done)

	var seq, missed uint64
	next := r.now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		seq++
		info := TickInfo{Seq: seq, StartedAt: r.now(), Missed: missed}

		if err := handler(ctx, info); err != nil {
			r.log.Error().Err(err).Uint64("seq", seq).Msg("tick handler returned error")
		}

		// Schedule from the intended start so the cadence does not drift.
		// An overrun fires once right away for all ticks that passed.
		interval := r.Interval()
		next = next.Add(interval)
		now := r.now()
		missed = 0
		if !next.After(now) {
			missed = uint64(now.Sub(next) / interval)
			next = now
			if missed > 0 {
				r.log.Debug().Uint64("missed", missed).Msg("tick handler overran, coalescing ticks")
			}
		}
		timer.Reset(next.Sub(now))
	}
}
