// Package supervisor owns the configuration lifecycle and the adapter table.
//
// On every tick it polls for a new configuration snapshot, reconciles the
// live adapters against it, sweeps dead adapters so the next tick restarts
// them, and pumps the router once.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"

	"github.com/compose-network/datahub/x/adapter"
	intervalrunner "github.com/compose-network/datahub/x/interval-runner"
	"github.com/compose-network/datahub/x/pipeline"
	"github.com/compose-network/datahub/x/router"
	"github.com/compose-network/datahub/x/snapshot"
)

// ErrAlreadyStarted is returned by Start on a supervisor that is not idle.
var ErrAlreadyStarted = errors.New("supervisor: already started")

// constructRetryBase is the first backoff after a failed construction.
const constructRetryBase = time.Second

type failedAdapter struct {
	spec        snapshot.AdapterSpec
	attempts    int
	nextAttempt time.Time
	err         error
}

// Supervisor reconciles adapters with configuration and drives the router.
type Supervisor struct {
	log        zerolog.Logger
	adapterLog zerolog.Logger
	registry   *adapter.Registry
	router     *router.Router
	store      *snapshot.Store
	pipeline   *pipeline.Pipeline
	loader     Loader
	onReload   func(*snapshot.Snapshot)
	now        func() time.Time
	metrics    *supervisorMetrics
	runner     *intervalrunner.LocalIntervalRunner

	// tickMu serializes ticks with shutdown. lastReload is only touched
	// while it is held.
	tickMu     sync.Mutex
	lastReload time.Time

	mu         sync.RWMutex
	state      State
	live       map[string]*adapter.Handle
	failed     map[string]*failedAdapter
	restarts   map[string]int
	ticks      uint64
	deliveries uint64
	runCtx     context.Context
	runCancel  context.CancelFunc
}

// New creates a Supervisor using the provided config.
// Required fields: Registry, Router, Store.
func New(cfg Config) *Supervisor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = pipeline.New(cfg.Store, cfg.Logger)
	}

	s := &Supervisor{
		log:        cfg.Logger.With().Str("component", "supervisor").Logger(),
		adapterLog: cfg.Logger.With().Str("component", "adapter").Logger(),
		registry:   cfg.Registry,
		router:     cfg.Router,
		store:      cfg.Store,
		pipeline:   cfg.Pipeline,
		loader:     cfg.Loader,
		onReload:   cfg.OnReload,
		now:        cfg.Now,
		metrics:    newMetrics(),
		state:      StateIdle,
		live:       make(map[string]*adapter.Handle),
		failed:     make(map[string]*failedAdapter),
		restarts:   make(map[string]int),
	}

	s.runner = intervalrunner.NewLocalIntervalRunner(intervalrunner.Config{
		Handler:  s.onTick,
		Interval: cfg.Store.Load().Hub.TickInterval,
		Now:      cfg.Now,
		Logger:   s.log,
	})
	return s
}

// Start switches to RUNNING and begins ticking every hub tick interval.
// Adapters outlive ctx; they are stopped by Stop.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	return s.runner.Start(ctx)
}

func (s *Supervisor) begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrAlreadyStarted
	}
	s.state = StateRunning
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	s.log.Info().Msg("Supervisor running")
	return nil
}

func (s *Supervisor) onTick(ctx context.Context, _ intervalrunner.TickInfo) error {
	s.Tick(ctx)
	return nil
}

// Tick runs one supervisor iteration. It does nothing unless RUNNING.
func (s *Supervisor) Tick(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if s.State() != StateRunning {
		return
	}
	start := s.now()

	s.maybeReload(ctx)
	snap := s.store.Load()
	s.reconcile(snap)
	s.sweep()
	n := s.router.Pump()

	s.mu.Lock()
	s.ticks++
	s.deliveries += uint64(n)
	active := len(s.live)
	s.mu.Unlock()

	s.metrics.ticks.Inc()
	s.metrics.adaptersActive.Set(float64(active))
	s.metrics.tickDuration.Observe(s.now().Sub(start).Seconds())
}

// Stop finishes the current tick, stops every adapter and waits for all
// adapter loops to end. There is no join timeout: a hung adapter delays
// shutdown.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateShuttingDown
	s.mu.Unlock()

	s.log.Info().Msg("Supervisor shutting down")

	var errs []error
	if err := s.runner.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping tick runner: %w", err))
	}

	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	handles := s.live
	s.live = make(map[string]*adapter.Handle)
	s.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	for name, h := range handles {
		h.Wait()
		s.router.Detach(name)
		s.log.Info().Str("adapter", name).Msg("Adapter stopped")
	}

	s.mu.Lock()
	s.runCancel()
	s.state = StateStopped
	s.mu.Unlock()

	s.metrics.adaptersActive.Set(0)
	s.log.Info().Int("adapters", len(handles)).Msg("Supervisor stopped")
	return errors.Join(errs...)
}

func (s *Supervisor) maybeReload(ctx context.Context) {
	if s.loader == nil {
		return
	}
	now := s.now()
	if !s.lastReload.IsZero() && now.Sub(s.lastReload) < s.store.Load().Hub.ReloadInterval {
		return
	}
	s.lastReload = now

	snap, err := s.loader.Load(ctx)
	switch {
	case errors.Is(err, ErrNotModified):
		s.metrics.reloads.WithLabelValues("unchanged").Inc()
		return
	case err != nil:
		s.metrics.reloads.WithLabelValues("error").Inc()
		s.log.Warn().Err(err).Msg("Configuration reload failed, keeping previous snapshot")
		return
	}

	s.store.Swap(snap)
	s.runner.SetInterval(snap.Hub.TickInterval)
	s.metrics.reloads.WithLabelValues("applied").Inc()
	s.log.Info().
		Uint64("version", snap.Version).
		Int("adapters", len(snap.Adapters)).
		Int("sources", len(snap.Sources)).
		Msg("Configuration reloaded")

	if s.onReload != nil {
		s.onReload(snap)
	}
}

// reconcile makes the live table match snap. Removed entries and entries
// whose type or init settings changed are destroyed; runtime-only changes
// are applied in place; entries without a live adapter are constructed.
func (s *Supervisor) reconcile(snap *snapshot.Snapshot) {
	for _, name := range s.liveNames() {
		h, ok := s.handle(name)
		if !ok {
			continue
		}
		spec, configured := snap.Adapters[name]
		current := h.Spec()

		switch {
		case !configured:
			s.destroy(name, h, "removed from configuration")
		case !sameInit(current, spec):
			s.destroy(name, h, "init settings changed")
		case !cmp.Equal(current.Runtime, spec.Runtime, cmpopts.EquateEmpty()):
			h.Adapter().Set(spec.Runtime.Clone())
			h.SetSpec(spec)
			s.log.Info().Str("adapter", name).Msg("Runtime settings applied")
		}
	}

	names := make([]string, 0, len(snap.Adapters))
	for name := range snap.Adapters {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if _, ok := s.handle(name); ok {
			continue
		}
		s.construct(name, snap.Adapters[name], snap.Hub)
	}

	s.mu.Lock()
	for name := range s.failed {
		if _, ok := snap.Adapters[name]; !ok {
			delete(s.failed, name)
		}
	}
	s.mu.Unlock()
}

func (s *Supervisor) construct(name string, spec snapshot.AdapterSpec, hub snapshot.HubSettings) {
	s.mu.RLock()
	prev := s.failed[name]
	s.mu.RUnlock()

	now := s.now()
	retrying := prev != nil && cmp.Equal(prev.spec, spec, cmpopts.EquateEmpty())
	if retrying && now.Before(prev.nextAttempt) {
		return
	}

	ep := s.router.Attach(name, nil, nil)
	a, err := s.build(name, spec, ep)
	if err != nil {
		s.router.Detach(name)

		attempts := 1
		if retrying {
			attempts = prev.attempts + 1
		}
		delay := backoff(attempts, hub.ConstructRetryMax)

		s.mu.Lock()
		s.failed[name] = &failedAdapter{spec: spec, attempts: attempts, nextAttempt: now.Add(delay), err: err}
		s.mu.Unlock()

		s.metrics.constructFails.WithLabelValues(name).Inc()
		s.log.Error().
			Err(err).
			Str("adapter", name).
			Str("type", spec.Type).
			Int("attempts", attempts).
			Dur("retry_in", delay).
			Msg("Adapter construction failed, entry skipped")
		return
	}

	h := adapter.Start(s.runContext(), a, ep, spec, hub.AdapterLoopInterval, s.adapterLog)

	s.mu.Lock()
	s.live[name] = h
	delete(s.failed, name)
	s.mu.Unlock()

	s.log.Info().Str("adapter", name).Str("type", spec.Type).Msg("Adapter started")
}

// build calls the factory, turning a factory panic into an error.
func (s *Supervisor) build(name string, spec snapshot.AdapterSpec, ep *router.Endpoint) (a adapter.Adapter, err error) {
	defer func() {
		if r := recover(); r != nil {
			a, err = nil, fmt.Errorf("%w: constructing %s: %v", adapter.ErrPanic, name, r)
		}
	}()

	return s.registry.New(spec.Type, adapter.Deps{
		Name:     name,
		Init:     spec.Init.Clone(),
		Runtime:  spec.Runtime.Clone(),
		Log:      s.adapterLog,
		Endpoint: ep,
		Store:    s.store,
		Pipeline: s.pipeline,
	})
}

func (s *Supervisor) destroy(name string, h *adapter.Handle, reason string) {
	h.Stop()
	h.Wait()

	s.mu.Lock()
	delete(s.live, name)
	s.mu.Unlock()
	s.router.Detach(name)

	s.log.Info().Str("adapter", name).Str("reason", reason).Msg("Adapter destroyed")
}

// sweep drops dead adapters from the live table. The next reconcile sees
// them as new entries and constructs them again.
func (s *Supervisor) sweep() {
	for _, name := range s.liveNames() {
		h, ok := s.handle(name)
		if !ok || h.Alive() {
			continue
		}

		s.mu.Lock()
		delete(s.live, name)
		s.restarts[name]++
		restarts := s.restarts[name]
		s.mu.Unlock()
		s.router.Detach(name)

		s.metrics.restarts.WithLabelValues(name).Inc()
		s.log.Warn().
			Err(h.Err()).
			Str("adapter", name).
			Int("restarts", restarts).
			Msg("Adapter loop died, restarting on next tick")
	}
}

func (s *Supervisor) runContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runCtx
}

func (s *Supervisor) liveNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.live))
	for name := range s.live {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Supervisor) handle(name string) (*adapter.Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.live[name]
	return h, ok
}

// State returns the lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Router returns the router the supervisor pumps.
func (s *Supervisor) Router() *router.Router { return s.router }

// Adapters reports every configured adapter, live or failed, by name.
func (s *Supervisor) Adapters() []AdapterStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AdapterStatus, 0, len(s.live)+len(s.failed))
	for name, h := range s.live {
		st := AdapterStatus{
			Name:      name,
			Type:      h.Adapter().Type(),
			Alive:     h.Alive(),
			StartedAt: h.StartedAt(),
			Restarts:  s.restarts[name],
		}
		if err := h.Err(); err != nil {
			st.Error = err.Error()
		}
		if r, ok := h.Adapter().(adapter.Reporter); ok {
			st.Stats = r.Stats()
		}
		out = append(out, st)
	}
	for name, f := range s.failed {
		if _, ok := s.live[name]; ok {
			continue
		}
		out = append(out, AdapterStatus{
			Name:        name,
			Type:        f.spec.Type,
			Restarts:    s.restarts[name],
			Failures:    f.attempts,
			NextAttempt: f.nextAttempt,
			Error:       f.err.Error(),
		})
	}

	slices.SortFunc(out, func(a, b AdapterStatus) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Stats summarizes the supervisor.
func (s *Supervisor) Stats() Stats {
	snap := s.store.Load()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		State:          s.state,
		Ticks:          s.ticks,
		ConfigVersion:  snap.Version,
		ConfigLoadedAt: snap.LoadedAt,
		AdaptersActive: len(s.live),
		AdaptersFailed: len(s.failed),
		Deliveries:     s.deliveries,
	}
}

func sameInit(a, b snapshot.AdapterSpec) bool {
	return strings.EqualFold(a.Type, b.Type) && cmp.Equal(a.Init, b.Init, cmpopts.EquateEmpty())
}

// backoff doubles from constructRetryBase up to limit.
func backoff(attempts int, limit time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 30 {
		return limit
	}
	return min(constructRetryBase<<(attempts-1), limit)
}
