// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"log/slog"
	"net/http"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/authstate"
	"github.com/gatehouse/gatehouse/internal/observability"
)

// Guard decides per request whether the path is public, the visitor is
// authenticated, or the request gets redirected to the fallback path.
// The decision reads the live state; it has no side effects beyond the
// redirect.
type Guard struct {
	store    *authstate.Store
	public   []glob.Glob
	fallback string
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewGuard compiles the public patterns and validates that the fallback
// path is itself public; a guarded fallback would redirect to itself
// forever.
func NewGuard(store *authstate.Store, publicPatterns []string, fallback string, metrics *observability.Metrics) (*Guard, error) {
	return NewGuardWithLogger(store, publicPatterns, fallback, metrics, slog.Default())
}

// NewGuardWithLogger creates a Guard with an explicit logger.
func NewGuardWithLogger(store *authstate.Store, publicPatterns []string, fallback string, metrics *observability.Metrics, logger *slog.Logger) (*Guard, error) {
	if store == nil {
		return nil, oops.Errorf("state store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	compiled := make([]glob.Glob, 0, len(publicPatterns))
	for _, pattern := range publicPatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, oops.Code("GUARD_BAD_PATTERN").
				With("pattern", pattern).
				Wrap(err)
		}
		compiled = append(compiled, g)
	}

	guard := &Guard{
		store:    store,
		public:   compiled,
		fallback: fallback,
		metrics:  metrics,
		logger:   logger,
	}
	if !guard.isPublic(fallback) {
		return nil, oops.Code("GUARD_FALLBACK_GUARDED").
			With("fallback", fallback).
			Errorf("fallback path %q must match a public pattern", fallback)
	}
	return guard, nil
}

// Middleware enforces the guard on every request.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.isPublic(r.URL.Path) || g.store.Authenticated() {
			g.record("allowed")
			next.ServeHTTP(w, r)
			return
		}

		g.record("redirected")
		g.logger.DebugContext(r.Context(), "guard redirected request",
			"path", r.URL.Path,
			"fallback", g.fallback)
		http.Redirect(w, r, g.fallback, http.StatusFound)
	})
}

func (g *Guard) isPublic(path string) bool {
	for _, pattern := range g.public {
		if pattern.Match(path) {
			return true
		}
	}
	return false
}

func (g *Guard) record(decision string) {
	if g.metrics == nil {
		return
	}
	g.metrics.GuardDecisions.WithLabelValues(decision).Inc()
}
