// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package authstate

// Watch creates a channel that receives a notification whenever the state
// changes. The channel has a buffer of one; notifications arriving while
// one is already pending coalesce into it, so a watcher that reads the
// channel and then calls Snapshot always observes the latest state.
func (s *Store) Watch() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan struct{}, 1)
	s.watchers = append(s.watchers, ch)
	return ch
}

// Unwatch removes a channel previously returned by Watch and closes it.
func (s *Store) Unwatch(ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, w := range s.watchers {
		if w == ch {
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			close(ch)
			return
		}
	}
}

// notifyLocked signals all watchers. Callers must hold s.mu.
func (s *Store) notifyLocked() {
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
			// Watcher already has a pending notification; coalesce.
		}
	}
}
