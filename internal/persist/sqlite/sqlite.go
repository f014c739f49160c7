// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package sqlite implements snapshot storage in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"
	"modernc.org/sqlite"

	"github.com/gatehouse/gatehouse/internal/persist"
	"github.com/gatehouse/gatehouse/internal/xdg"
)

// Engine stores keys in a state_entries table. A process-wide write lock
// serializes writes; the driver does not support concurrent writers.
type Engine struct {
	db        *sql.DB
	writeLock sync.Mutex
}

// New opens (and if needed creates) the database at path. An empty path
// falls back to gatehouse.db in the XDG data directory.
func New(path string) (*Engine, error) {
	if path == "" {
		path = filepath.Join(xdg.DataDir(), "gatehouse.db")
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, oops.Code("STATE_ENGINE_SETUP").
			With("engine", "sqlite").
			With("path", path).
			Wrap(err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, oops.Code("STATE_ENGINE_SETUP").
			With("engine", "sqlite").
			With("path", path).
			Wrap(err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close() //nolint:errcheck // setup error takes precedence
		return nil, oops.Code("STATE_ENGINE_SETUP").
			With("engine", "sqlite").
			With("operation", "set busy timeout").
			Wrap(err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS state_entries (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`); err != nil {
		_ = db.Close() //nolint:errcheck // setup error takes precedence
		return nil, oops.Code("STATE_ENGINE_SETUP").
			With("engine", "sqlite").
			With("operation", "create schema").
			Wrap(err)
	}

	db.SetConnMaxLifetime(5 * time.Minute)

	return &Engine{db: db}, nil
}

// Name identifies the engine.
func (e *Engine) Name() string { return "sqlite" }

// Load reads the value for key.
func (e *Engine) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := e.db.QueryRowContext(ctx,
		"SELECT value FROM state_entries WHERE key = ?", key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, oops.Code("STATE_NOT_FOUND").
				With("key", key).
				Wrap(persist.ErrNotFound)
		}
		return nil, wrapSQLiteErr("STATE_LOAD_FAILED", key, err)
	}
	return value, nil
}

// Store upserts the value for key.
func (e *Engine) Store(ctx context.Context, key string, value []byte) error {
	e.writeLock.Lock()
	defer e.writeLock.Unlock()

	_, err := e.db.ExecContext(ctx, `
		INSERT INTO state_entries (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return wrapSQLiteErr("STATE_STORE_FAILED", key, err)
	}
	return nil
}

// Delete removes the value for key. A missing row is not an error.
func (e *Engine) Delete(ctx context.Context, key string) error {
	e.writeLock.Lock()
	defer e.writeLock.Unlock()

	if _, err := e.db.ExecContext(ctx, "DELETE FROM state_entries WHERE key = ?", key); err != nil {
		return wrapSQLiteErr("STATE_DELETE_FAILED", key, err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return oops.Code("STATE_PING_FAILED").
			With("engine", "sqlite").
			Wrap(err)
	}
	return nil
}

// Close closes the database.
func (e *Engine) Close() error {
	if err := e.db.Close(); err != nil {
		return oops.Code("STATE_CLOSE_FAILED").
			With("engine", "sqlite").
			Wrap(err)
	}
	return nil
}

// wrapSQLiteErr attaches the driver's error code when available, which
// makes busy/locked conditions visible in logs.
func wrapSQLiteErr(code, key string, err error) error {
	builder := oops.Code(code).
		With("engine", "sqlite").
		With("key", key)
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		builder = builder.With("sqlite_code", liteErr.Code())
	}
	return builder.Wrap(err)
}
