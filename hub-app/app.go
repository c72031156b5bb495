package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/compose-network/datahub/hub-app/config"
	"github.com/compose-network/datahub/log"
	"github.com/compose-network/datahub/metrics"
	apisrv "github.com/compose-network/datahub/server/api"
	apimw "github.com/compose-network/datahub/server/api/middleware"
	"github.com/compose-network/datahub/x/snapshot"
	"github.com/compose-network/datahub/x/supervisor"
	supervisorhttp "github.com/compose-network/datahub/x/supervisor/http"

	_ "github.com/compose-network/datahub/x/adapters/httpsink"
	_ "github.com/compose-network/datahub/x/adapters/natssink"
	_ "github.com/compose-network/datahub/x/adapters/udp"
)

const (
	shutdownTimeout  = 30 * time.Second
	statsLogInterval = 30 * time.Second
)

// App wires the supervisor, its reload source and the HTTP API.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	store      *snapshot.Store
	supervisor *supervisor.Supervisor
	apiServer  *apisrv.Server
}

// NewApp creates a new application instance
func NewApp(cfg *config.Config, loader supervisor.Loader, log zerolog.Logger) (*App, error) {
	app := &App{
		cfg: cfg,
		log: log.With().Str("component", "app").Logger(),
	}

	if err := app.initializeSupervisor(loader, log); err != nil {
		return nil, err
	}
	if cfg.API.Enabled {
		app.initializeAPIServer(log)
	}
	return app, nil
}

func (a *App) initializeSupervisor(loader supervisor.Loader, logger zerolog.Logger) error {
	snap, err := a.cfg.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to build snapshot: %w", err)
	}
	a.store = snapshot.NewStore(snap)

	supCfg := supervisor.DefaultConfig(logger, a.store)
	supCfg.Loader = loader
	supCfg.OnReload = a.onReload
	a.supervisor = supervisor.New(supCfg)
	return nil
}

// onReload re-applies the hub-wide log level from the new snapshot.
func (a *App) onReload(snap *snapshot.Snapshot) {
	log.SetGlobalLevel(snap.Hub.LogLevel)
	a.log.Info().
		Uint64("config_version", snap.Version).
		Str("log_level", snap.Hub.LogLevel).
		Int("adapters", len(snap.Adapters)).
		Msg("Configuration applied")
}

// initializeAPIServer sets up the HTTP API server with all endpoints
func (a *App) initializeAPIServer(logger zerolog.Logger) {
	s := apisrv.NewServer(a.cfg.API, logger)
	s.Use(apimw.Recover(logger))
	s.Use(apimw.RequestID())
	s.Use(apimw.Logger(logger))
	s.Router.Use(apimw.Route())

	build := supervisorhttp.BuildInfo{Version: Version, GitCommit: GitCommit, BuildTime: BuildTime}
	supervisorhttp.NewHandler(a.supervisor, build, logger).RegisterMux(s.Router)

	if a.cfg.Metrics.Enabled {
		s.Router.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}

	a.apiServer = s
}

// Run starts the supervisor and the API server and blocks until a shutdown
// signal arrives, ctx ends or the API server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.supervisor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.apiServer != nil {
		g.Go(func() error {
			if err := a.apiServer.Start(gctx); err != nil {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		a.statsReporter(gctx)
		return nil
	})

	a.log.Info().Msg("Datahub started")

	<-gctx.Done()
	a.log.Info().Msg("Initiating graceful shutdown")

	runErr := g.Wait()
	if runErr != nil {
		a.log.Error().Err(runErr).Msg("Run group failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.supervisor.Stop(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("Supervisor shutdown error")
		return errors.Join(runErr, err)
	}

	a.log.Info().Msg("Graceful shutdown complete")
	return runErr
}

// statsReporter periodically logs supervisor statistics.
func (a *App) statsReporter(ctx context.Context) {
	ticker := time.NewTicker(statsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := a.supervisor.Stats()
			a.log.Info().
				Str("state", string(stats.State)).
				Uint64("ticks", stats.Ticks).
				Uint64("config_version", stats.ConfigVersion).
				Int("adapters_active", stats.AdaptersActive).
				Int("adapters_failed", stats.AdaptersFailed).
				Uint64("deliveries", stats.Deliveries).
				Msg("Datahub statistics")
		}
	}
}
