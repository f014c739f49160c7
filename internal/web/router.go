// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gatehouse/gatehouse/internal/observability"
)

// NewRouter assembles the shell router. The guard runs after the ambient
// middleware, so every route, including the public ones, is logged and
// counted; which paths bypass the authentication check is decided by the
// guard's public patterns, not by the route layout.
func NewRouter(handlers *Handlers, guard *Guard, metrics *observability.Metrics, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(requestMetrics(metrics))
	r.Use(guard.Middleware)

	r.Get("/login", handlers.LoginPage)
	r.Post("/login", handlers.LoginSubmit)
	r.Post("/error/clear", handlers.ClearError)
	r.Get("/", handlers.Dashboard)
	r.Get("/state", handlers.State)

	staticRoot, err := fs.Sub(staticFS, "static")
	if err != nil {
		// The static tree is embedded at build time; a missing subtree is a
		// packaging bug, not a runtime condition.
		panic(err)
	}
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(staticRoot)))

	return r
}
