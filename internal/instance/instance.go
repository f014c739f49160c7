// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package instance manages the stable per-installation identifier sent
// to the upstream service with every request.
package instance

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/xdg"
)

const fileName = "instance-id"

// ID returns the installation identifier, generating and persisting a
// new one on first use. dir may be empty to use the XDG data directory.
// An unreadable or corrupt identifier file is replaced rather than
// failing startup.
func ID(dir string) (string, error) {
	if dir == "" {
		dir = xdg.DataDir()
	}
	path := filepath.Join(dir, fileName)

	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if _, parseErr := uuid.Parse(id); parseErr == nil {
			return id, nil
		}
		slog.Warn("instance ID file is corrupt, regenerating", "path", path)
	}

	id := uuid.NewString()
	if err := xdg.EnsureDir(dir); err != nil {
		return "", oops.Code("INSTANCE_ID_FAILED").With("dir", dir).Wrap(err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", oops.Code("INSTANCE_ID_FAILED").With("path", path).Wrap(err)
	}
	return id, nil
}
