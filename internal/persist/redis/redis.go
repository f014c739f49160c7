// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package redis implements snapshot storage in a Redis server.
package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/persist"
)

const defaultAddr = "localhost:6379"

// Config holds connection settings for the Redis engine.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Engine stores snapshots as plain Redis string values with no expiry.
// Persisted state outlives restarts and is only removed by an explicit
// reset.
type Engine struct {
	client *redis.Client
}

// New builds an engine from connection settings. The connection is
// established lazily; use Ping to verify reachability.
func New(cfg Config) *Engine {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}))
}

// NewWithClient wraps an existing client. Tests use this with a mock
// client.
func NewWithClient(client *redis.Client) *Engine {
	return &Engine{client: client}
}

// Name identifies the engine.
func (e *Engine) Name() string { return "redis" }

// Load reads the value for key.
func (e *Engine) Load(ctx context.Context, key string) ([]byte, error) {
	value, err := e.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, oops.Code("STATE_NOT_FOUND").
				With("key", key).
				Wrap(persist.ErrNotFound)
		}
		return nil, oops.Code("STATE_LOAD_FAILED").
			With("engine", "redis").
			With("key", key).
			Wrap(err)
	}
	return value, nil
}

// Store writes the value for key without expiry.
func (e *Engine) Store(ctx context.Context, key string, value []byte) error {
	if err := e.client.Set(ctx, key, value, 0).Err(); err != nil {
		return oops.Code("STATE_STORE_FAILED").
			With("engine", "redis").
			With("key", key).
			Wrap(err)
	}
	return nil
}

// Delete removes the value for key. A missing key is not an error.
func (e *Engine) Delete(ctx context.Context, key string) error {
	if err := e.client.Del(ctx, key).Err(); err != nil {
		return oops.Code("STATE_DELETE_FAILED").
			With("engine", "redis").
			With("key", key).
			Wrap(err)
	}
	return nil
}

// Ping verifies the server is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.client.Ping(ctx).Err(); err != nil {
		return oops.Code("STATE_PING_FAILED").
			With("engine", "redis").
			Wrap(err)
	}
	return nil
}

// Close closes the underlying client.
func (e *Engine) Close() error {
	if err := e.client.Close(); err != nil {
		return oops.Code("STATE_CLOSE_FAILED").
			With("engine", "redis").
			Wrap(err)
	}
	return nil
}
