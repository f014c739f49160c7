// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package authstate holds the in-process authentication state and
// notifies watchers when it changes.
package authstate

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// State is the authentication state container. User carries the upstream
// profile verbatim; it is nil whenever IsAuthenticated is false.
type State struct {
	User            json.RawMessage
	IsAuthenticated bool
	Loading         bool
	Error           string
}

// copyState returns a defensive copy of a state to prevent external modification.
func copyState(s State) State {
	out := s
	if s.User != nil {
		out.User = make(json.RawMessage, len(s.User))
		copy(out.User, s.User)
	}
	return out
}

// Store manages the authentication state.
type Store struct {
	mu       sync.RWMutex
	state    State
	watchers []chan struct{}
}

// NewStore creates a store in the unauthenticated resting state.
func NewStore() *Store {
	return &Store{}
}

// Begin marks a sign-in attempt as in flight. Any earlier error is cleared
// so the attempt starts from a clean slate.
func (s *Store) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Loading {
		slog.Debug("sign-in began while another attempt in flight")
	}
	s.state.Loading = true
	s.state.Error = ""
	s.notifyLocked()
}

// Succeed records a successful sign-in with the given profile.
func (s *Store) Succeed(user json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile := make(json.RawMessage, len(user))
	copy(profile, user)

	s.state.User = profile
	s.state.IsAuthenticated = true
	s.state.Loading = false
	s.state.Error = ""
	s.notifyLocked()
}

// Fail records a failed sign-in attempt. The store returns to the
// unauthenticated resting state with the error message retained.
func (s *Store) Fail(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.User = nil
	s.state.IsAuthenticated = false
	s.state.Loading = false
	s.state.Error = message
	s.notifyLocked()
}

// ClearError discards the retained sign-in error, if any.
func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Error == "" {
		return
	}
	s.state.Error = ""
	s.notifyLocked()
}

// Rehydrate restores the persisted subset of the state. Loading and Error
// always come up zero-valued. Rehydrate does not mark the state dirty;
// it restores what was already persisted.
func (s *Store) Rehydrate(user json.RawMessage, isAuthenticated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if isAuthenticated && user == nil {
		slog.Debug("rehydrate with authenticated flag but no user; treating as unauthenticated")
		isAuthenticated = false
	}

	var profile json.RawMessage
	if user != nil {
		profile = make(json.RawMessage, len(user))
		copy(profile, user)
	}

	s.state.User = profile
	s.state.IsAuthenticated = isAuthenticated
	s.state.Loading = false
	s.state.Error = ""
}

// Snapshot returns a copy of the current state.
// Returns a copy to prevent external modification of internal state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyState(s.state)
}

// Authenticated reports whether the current state is authenticated.
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.IsAuthenticated
}
