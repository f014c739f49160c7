package main

import (
	"context"
	"net/http"

	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/persist"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// EngineFactory creates the persistence engine selected by the config.
	// Default: newEngine
	EngineFactory func(ctx context.Context, cfg *config.Config) (persist.Engine, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// WebServerFactory creates the shell web server.
	// Default: web.NewServer
	WebServerFactory func(addr string, handler http.Handler) WebServer

	// InstanceIDGetter returns the stable instance ID.
	// Default: instance.ID with the default data dir
	InstanceIDGetter func() (string, error)
}

// WebServer interface wraps the methods used from web.Server.
type WebServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}
