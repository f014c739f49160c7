// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package file implements snapshot storage as files in a local directory.
package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/persist"
	"github.com/gatehouse/gatehouse/internal/xdg"
)

// Engine stores each key as a file under a directory. Files are written
// with 0600 permissions; the directory is created with 0700.
type Engine struct {
	dir string
}

// New creates a file engine rooted at dir. An empty dir falls back to the
// XDG state directory.
func New(dir string) (*Engine, error) {
	if dir == "" {
		dir = xdg.StateDir()
	}
	if err := xdg.EnsureDir(dir); err != nil {
		return nil, oops.Code("STATE_ENGINE_SETUP").
			With("engine", "file").
			With("dir", dir).
			Wrap(err)
	}
	return &Engine{dir: dir}, nil
}

// Name identifies the engine.
func (e *Engine) Name() string { return "file" }

// Load reads the value for key.
func (e *Engine) Load(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(e.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code("STATE_NOT_FOUND").
				With("key", key).
				Wrap(persist.ErrNotFound)
		}
		return nil, oops.Code("STATE_LOAD_FAILED").
			With("engine", "file").
			With("key", key).
			Wrap(err)
	}
	return data, nil
}

// Store writes the value for key.
func (e *Engine) Store(_ context.Context, key string, value []byte) error {
	if err := os.WriteFile(e.path(key), value, 0o600); err != nil {
		return oops.Code("STATE_STORE_FAILED").
			With("engine", "file").
			With("key", key).
			Wrap(err)
	}
	return nil
}

// Delete removes the value for key. A missing file is not an error.
func (e *Engine) Delete(_ context.Context, key string) error {
	if err := os.Remove(e.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return oops.Code("STATE_DELETE_FAILED").
			With("engine", "file").
			With("key", key).
			Wrap(err)
	}
	return nil
}

// Ping verifies the directory is still accessible.
func (e *Engine) Ping(_ context.Context) error {
	if _, err := os.Stat(e.dir); err != nil {
		return oops.Code("STATE_PING_FAILED").
			With("engine", "file").
			With("dir", e.dir).
			Wrap(err)
	}
	return nil
}

// Close is a no-op for the file engine.
func (e *Engine) Close() error { return nil }

// path maps a key to a file name. Characters outside [A-Za-z0-9._-] are
// replaced so keys like "gatehouse:root" produce portable file names.
func (e *Engine) path(key string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(e.dir, sanitized+".json")
}
