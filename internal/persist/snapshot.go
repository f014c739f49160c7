// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package persist

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/authstate"
)

// FormatVersion is the snapshot envelope format. Bump when the envelope
// shape changes incompatibly.
const FormatVersion = 1

// PersistedState is the whitelisted subset of authstate.State that is
// allowed to reach storage. Loading and Error are deliberately absent.
type PersistedState struct {
	IsAuthenticated bool            `json:"is_authenticated"`
	User            json.RawMessage `json:"user,omitempty"`
}

// Snapshot is the envelope written to storage.
type Snapshot struct {
	Version    int            `json:"version"`
	AppVersion string         `json:"app_version"`
	WrittenAt  time.Time      `json:"written_at"`
	State      PersistedState `json:"state"`
}

// NewSnapshot whitelists the durable fields of state into a snapshot
// stamped with the writing binary's version.
func NewSnapshot(state authstate.State, appVersion string) Snapshot {
	return Snapshot{
		Version:    FormatVersion,
		AppVersion: appVersion,
		WrittenAt:  time.Now().UTC(),
		State: PersistedState{
			IsAuthenticated: state.IsAuthenticated,
			User:            state.User,
		},
	}
}

// Encode serializes the snapshot.
func (s Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, oops.Code("PERSIST_ENCODE_FAILED").Wrap(err)
	}
	return data, nil
}

// DecodeSnapshot parses and validates a stored snapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, oops.Code("PERSIST_DECODE_FAILED").Wrap(err)
	}
	if snap.Version != FormatVersion {
		return Snapshot{}, oops.Code("PERSIST_VERSION_UNSUPPORTED").
			With("version", snap.Version).
			With("supported", FormatVersion).
			Errorf("unsupported snapshot format version %d", snap.Version)
	}
	if snap.State.User != nil && !json.Valid(snap.State.User) {
		return Snapshot{}, oops.Code("PERSIST_DECODE_FAILED").
			Errorf("persisted user profile is not valid JSON")
	}
	return snap, nil
}

// CompatibleAppVersion reports whether state written by version written may
// be restored into a binary running version current. Versions are compatible
// when they share a major version. Unparseable versions (dev builds) are
// treated as compatible so local builds don't discard state on every run.
func CompatibleAppVersion(written, current string) bool {
	wv, err := semver.NewVersion(written)
	if err != nil {
		slog.Debug("persisted app version is not semver, accepting", "version", written)
		return true
	}
	cv, err := semver.NewVersion(current)
	if err != nil {
		slog.Debug("running app version is not semver, accepting", "version", current)
		return true
	}
	return wv.Major() == cv.Major()
}
