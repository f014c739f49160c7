// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package postgres implements snapshot storage in a PostgreSQL database.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/persist"
)

// poolIface is the subset of pgxpool.Pool the engine uses. Tests
// substitute a pgxmock pool.
type poolIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Engine stores keys in a state_entries table. The schema is managed by
// Migrator; a missing table surfaces as a store error with a migration
// hint.
type Engine struct {
	pool poolIface
}

// New connects a pool for the given DSN.
func New(ctx context.Context, dsn string) (*Engine, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("STATE_ENGINE_SETUP").
			With("engine", "postgres").
			Wrap(err)
	}
	return NewWithPool(pool), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool poolIface) *Engine {
	return &Engine{pool: pool}
}

// Name identifies the engine.
func (e *Engine) Name() string { return "postgres" }

// Load reads the value for key.
func (e *Engine) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := e.pool.QueryRow(ctx,
		`SELECT value FROM state_entries WHERE key = $1`, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("STATE_NOT_FOUND").
			With("key", key).
			Wrap(persist.ErrNotFound)
	}
	if err != nil {
		return nil, wrapPgErr("STATE_LOAD_FAILED", key, err)
	}
	return value, nil
}

// Store upserts the value for key.
func (e *Engine) Store(ctx context.Context, key string, value []byte) error {
	_, err := e.pool.Exec(ctx,
		`INSERT INTO state_entries (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = now()`,
		key, value)
	if err != nil {
		return wrapPgErr("STATE_STORE_FAILED", key, err)
	}
	return nil
}

// Delete removes the value for key. A missing row is not an error.
func (e *Engine) Delete(ctx context.Context, key string) error {
	if _, err := e.pool.Exec(ctx,
		`DELETE FROM state_entries WHERE key = $1`, key); err != nil {
		return wrapPgErr("STATE_DELETE_FAILED", key, err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.pool.Ping(ctx); err != nil {
		return oops.Code("STATE_PING_FAILED").
			With("engine", "postgres").
			Wrap(err)
	}
	return nil
}

// Close releases the pool.
func (e *Engine) Close() error {
	e.pool.Close()
	return nil
}

// wrapPgErr attaches the server error code when available. An undefined
// table means migrations have not been applied yet, which deserves a
// pointer to the fix.
func wrapPgErr(code, key string, err error) error {
	builder := oops.Code(code).
		With("engine", "postgres").
		With("key", key)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		builder = builder.With("pg_code", pgErr.Code)
		if pgErr.Code == pgerrcode.UndefinedTable {
			builder = builder.Hint("run \"gatehouse migrate up\" to create the schema")
		}
	}
	return builder.Wrap(err)
}
