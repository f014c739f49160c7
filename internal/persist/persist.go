// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package persist writes the durable subset of the authentication state to a
// storage engine and restores it on startup. Only the authenticated flag and
// the user profile are ever persisted; transient fields never leave memory.
package persist

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrNotFound is returned by Engine.Load when no value exists for the key.
var ErrNotFound = errors.New("not found")

// Engine is a key/value storage backend for persisted state. Values are
// opaque bytes; any transform (such as sealing) has already been applied.
type Engine interface {
	// Name identifies the engine in logs and metrics, e.g. "file" or "redis".
	Name() string
	// Load returns the value for key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
	// Store writes the value for key, replacing any previous value.
	Store(ctx context.Context, key string, value []byte) error
	// Delete removes the value for key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Ping verifies the engine is reachable.
	Ping(ctx context.Context) error
	// Close releases engine resources.
	Close() error
}

const (
	waitReadyRetries = 5
	waitReadyBase    = 250 * time.Millisecond
)

// WaitReady pings the engine until it responds, backing off on the fibonacci
// sequence. Engines backed by remote services may come up after the gateway
// does; a bounded wait covers that window without masking real outages.
func WaitReady(ctx context.Context, eng Engine) error {
	backoff := retry.WithMaxRetries(waitReadyRetries, retry.NewFibonacci(waitReadyBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := eng.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
