package adapter

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/compose-network/datahub/x/router"
	"github.com/compose-network/datahub/x/snapshot"
)

// Handle runs one adapter's loop in its own goroutine and tracks its
// liveness. Each iteration reads once and publishes the result, processes
// every delivered message, then runs Action. The loop sleeps for the
// configured interval only when Read returned nothing.
type Handle struct {
	adapter   Adapter
	spec      snapshot.AdapterSpec
	endpoint  *router.Endpoint
	log       zerolog.Logger
	interval  time.Duration
	startedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Start launches a's loop. spec is kept so the supervisor can diff it on the
// next reload.
func Start(
	ctx context.Context,
	a Adapter,
	ep *router.Endpoint,
	spec snapshot.AdapterSpec,
	interval time.Duration,
	log zerolog.Logger,
) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		adapter:   a,
		spec:      spec,
		endpoint:  ep,
		log:       log.With().Str("adapter", a.Name()).Str("type", a.Type()).Logger(),
		interval:  interval,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go h.run(ctx)
	return h
}

func (h *Handle) run(ctx context.Context) {
	defer close(h.done)
	defer h.closeAdapter()
	defer func() {
		if r := recover(); r != nil {
			h.setErr(fmt.Errorf("%w: %v", ErrPanic, r))
			h.log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Adapter panicked, loop stopped")
		}
	}()

	h.log.Info().Msg("Adapter loop started")

	for {
		if ctx.Err() != nil {
			h.log.Info().Msg("Adapter loop stopped")
			return
		}

		busy, err := h.step(ctx)
		if err != nil {
			h.setErr(err)
			h.log.Error().Err(err).Msg("Adapter loop ended with fatal error")
			return
		}
		if busy {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(h.interval):
		}
	}
}

func (h *Handle) step(ctx context.Context) (bool, error) {
	msg, err := h.adapter.Read(ctx)
	if err != nil {
		if IsFatal(err) {
			return false, err
		}
		if ctx.Err() == nil {
			h.log.Warn().Err(err).Msg("Read failed")
		}
	}
	if msg != nil {
		h.endpoint.PublishAll(msg)
	}

	for _, in := range h.endpoint.Drain() {
		if err := h.adapter.Process(ctx, in); err != nil {
			if IsFatal(err) {
				return false, err
			}
			h.log.Warn().Err(err).Uint64("message_id", in.ID).Msg("Process failed")
		}
	}

	if err := h.adapter.Action(ctx); err != nil {
		if IsFatal(err) {
			return false, err
		}
		h.log.Warn().Err(err).Msg("Action failed")
	}

	return msg != nil, nil
}

func (h *Handle) closeAdapter() {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Msg("Adapter panicked on close")
		}
	}()
	if err := h.adapter.Close(); err != nil {
		h.log.Warn().Err(err).Msg("Adapter close failed")
	}
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

// Stop asks the loop to end after the current iteration.
func (h *Handle) Stop() { h.cancel() }

// Wait blocks until the loop has ended and the adapter is closed.
func (h *Handle) Wait() { <-h.done }

// Done is closed when the loop has ended.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Alive reports whether the loop is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Err returns the error that ended the loop, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) Adapter() Adapter           { return h.adapter }
func (h *Handle) Endpoint() *router.Endpoint { return h.endpoint }
func (h *Handle) StartedAt() time.Time       { return h.startedAt }

// Spec returns the spec the adapter is running with.
func (h *Handle) Spec() snapshot.AdapterSpec {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.spec
}

// SetSpec records the spec after an in-place runtime update.
func (h *Handle) SetSpec(spec snapshot.AdapterSpec) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.spec = spec
}
