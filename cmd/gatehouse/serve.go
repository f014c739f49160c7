// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/authstate"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/instance"
	"github.com/gatehouse/gatehouse/internal/logging"
	"github.com/gatehouse/gatehouse/internal/login"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/persist"
	"github.com/gatehouse/gatehouse/internal/persist/file"
	"github.com/gatehouse/gatehouse/internal/persist/postgres"
	"github.com/gatehouse/gatehouse/internal/persist/redis"
	"github.com/gatehouse/gatehouse/internal/persist/sqlite"
	"github.com/gatehouse/gatehouse/internal/upstream"
	"github.com/gatehouse/gatehouse/internal/web"
)

// serviceName identifies the process in log records.
const serviceName = "gatehouse"

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long: `Run the gateway: restore the persisted sign-in state, then serve the
login page, the guarded application shell, and the observability
endpoints until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	addConfigFlags(cmd)

	return cmd
}

// addConfigFlags registers the flags that override config keys. Flag
// defaults track the config defaults so an untouched flag never overrides
// a value from the file or the environment.
func addConfigFlags(cmd *cobra.Command) {
	def := config.Default()
	cmd.Flags().String("server-addr", def.Server.Addr, "web listen address")
	cmd.Flags().String("metrics-addr", def.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", def.Log.Format, "log format (json or text)")
	cmd.Flags().String("upstream-url", def.Upstream.URL, "upstream identity service base URL")
	cmd.Flags().String("persist-engine", def.Persist.Engine, "state engine (file, sqlite, redis, postgres)")
}

// runServeWithDeps starts the gateway with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}

	// Set up default factories
	if deps.EngineFactory == nil {
		deps.EngineFactory = newEngine
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if deps.WebServerFactory == nil {
		deps.WebServerFactory = func(addr string, handler http.Handler) WebServer {
			return web.NewServer(addr, handler)
		}
	}
	if deps.InstanceIDGetter == nil {
		deps.InstanceIDGetter = func() (string, error) {
			return instance.ID("")
		}
	}

	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ValidateUpstream(); err != nil {
		return err
	}

	logging.SetDefault(serviceName, version, cfg.Log.Format)

	slog.Info("starting gateway",
		"server_addr", cfg.Server.Addr,
		"persist_engine", cfg.Persist.Engine,
		"log_format", cfg.Log.Format,
	)

	instanceID, err := deps.InstanceIDGetter()
	if err != nil {
		return fmt.Errorf("failed to resolve instance ID: %w", err)
	}

	client, err := upstream.New(upstream.Config{
		BaseURL:    cfg.Upstream.URL,
		SignInPath: cfg.Upstream.Signin,
		Timeout:    cfg.Upstream.Timeout,
	}, version, instanceID, nil)
	if err != nil {
		return fmt.Errorf("failed to create upstream client: %w", err)
	}

	engine, err := deps.EngineFactory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open state engine: %w", err)
	}
	defer func() {
		if closeErr := engine.Close(); closeErr != nil {
			slog.Warn("error closing state engine", "error", closeErr)
		}
	}()

	if err := persist.WaitReady(ctx, engine); err != nil {
		return fmt.Errorf("state engine not reachable: %w", err)
	}

	slog.Info("state engine ready", "engine", engine.Name())

	// Readiness flips once the persisted state is restored and the shell
	// is listening.
	var ready atomic.Bool

	// The observability server owns the metrics registry; without one the
	// counters still work, they are just never scraped.
	var metrics *observability.Metrics
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.Load)
		metrics = obsServer.Metrics()
	} else {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	store := authstate.NewStore()
	persistor, err := buildPersistor(store, engine, cfg, metrics)
	if err != nil {
		return fmt.Errorf("failed to create persistor: %w", err)
	}

	return serveLoop(ctx, cmd, cfg, serveComponents{
		deps:      deps,
		store:     store,
		engine:    engine,
		persistor: persistor,
		client:    client,
		metrics:   metrics,
		obsServer: obsServer,
		ready:     &ready,
	})
}

// serveComponents carries the wired pieces from setup into the serve loop.
type serveComponents struct {
	deps      *ServeDeps
	store     *authstate.Store
	engine    persist.Engine
	persistor *persist.Persistor
	client    *upstream.Client
	metrics   *observability.Metrics
	obsServer ObservabilityServer
	ready     *atomic.Bool
}

// serveLoop wires the handlers, starts the servers and the persistence
// loop, and blocks until a signal or a server failure triggers shutdown.
func serveLoop(ctx context.Context, cmd *cobra.Command, cfg *config.Config, c serveComponents) error {
	// Restore persisted state before anything is served.
	c.persistor.Rehydrate(ctx)

	svc, err := login.NewService(c.store, c.client, c.metrics)
	if err != nil {
		return fmt.Errorf("failed to create login service: %w", err)
	}
	handlers, err := web.NewHandlers(c.store, svc)
	if err != nil {
		return fmt.Errorf("failed to create handlers: %w", err)
	}
	guard, err := web.NewGuard(c.store, cfg.Routes.Public, cfg.Routes.Fallback, c.metrics)
	if err != nil {
		return fmt.Errorf("failed to create route guard: %w", err)
	}
	router := web.NewRouter(handlers, guard, c.metrics, slog.Default())

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.obsServer != nil {
		obsErrChan, err := c.obsServer.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		slog.Info("observability server started", "addr", c.obsServer.Addr())
	}

	webServer := c.deps.WebServerFactory(cfg.Server.Addr, router)
	webErrChan, err := webServer.Start()
	if err != nil {
		if c.obsServer != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if stopErr := c.obsServer.Stop(stopCtx); stopErr != nil {
				slog.Warn("failed to stop observability server during cleanup", "error", stopErr)
			}
		}
		return fmt.Errorf("failed to start web server: %w", err)
	}
	go monitorServerErrors(ctx, cancel, webErrChan, "web")

	// Mirror state changes into the engine until shutdown.
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		c.persistor.Run(ctx)
	}()

	c.ready.Store(true)

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Gateway started")
	slog.Info("gateway ready",
		"addr", webServer.Addr(),
		"engine", c.engine.Name(),
		"authenticated", c.store.Authenticated(),
	)

	// Wait for shutdown signal or server failure
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop the web server first so no new transitions arrive, then let the
	// persistence loop write its final snapshot.
	if err := webServer.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping web server", "error", err)
	}

	cancel()
	select {
	case <-persistDone:
	case <-shutdownCtx.Done():
		slog.Warn("timed out waiting for final state write")
	}

	if c.obsServer != nil {
		if err := c.obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// buildPersistor assembles the persistor, sealing snapshots when a
// passphrase is configured.
func buildPersistor(store *authstate.Store, engine persist.Engine, cfg *config.Config, metrics *observability.Metrics) (*persist.Persistor, error) {
	opts := persist.Options{
		Store:      store,
		Engine:     engine,
		Key:        cfg.Persist.Key,
		AppVersion: version,
		Metrics:    metrics,
	}
	if cfg.Persist.Passphrase != "" {
		sealed, err := persist.NewSealed(cfg.Persist.Passphrase)
		if err != nil {
			return nil, err
		}
		opts.Transforms = []persist.Transform{sealed}
	}
	return persist.New(opts)
}

// newEngine creates the persistence engine selected by the config.
func newEngine(ctx context.Context, cfg *config.Config) (persist.Engine, error) {
	switch cfg.Persist.Engine {
	case "file":
		return file.New(cfg.Persist.File.Dir)
	case "sqlite":
		return sqlite.New(cfg.Persist.SQLite.Path)
	case "redis":
		return redis.New(redis.Config{
			Addr:     cfg.Persist.Redis.Addr,
			Password: cfg.Persist.Redis.Password,
			DB:       cfg.Persist.Redis.DB,
		}), nil
	case "postgres":
		return postgres.New(ctx, cfg.Persist.Postgres.URL)
	default:
		return nil, fmt.Errorf("unknown persist engine %q", cfg.Persist.Engine)
	}
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// This ensures that server failures trigger graceful shutdown of the entire process.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
