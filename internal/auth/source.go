// internal/auth/source.go
// Package auth tracks the signed-in user and verifies bearer tokens.
//
// The sync coordinator consumes the Source interface: it asks who is
// currently signed in before touching the remote store and subscribes to
// transitions so a sign-in can trigger the merge reconciliation.
package auth

import "sync"

// Source reports the current authentication state and publishes transitions.
type Source interface {
	// CurrentUserID returns the signed-in user and true, or "" and false
	// when no user is signed in.
	CurrentUserID() (string, bool)

	// Subscribe registers a listener for sign-in and sign-out transitions
	// and returns an unsubscribe function. Listeners are invoked
	// synchronously in registration order.
	Subscribe(fn func(userID string, signedIn bool)) func()
}

// SessionSource is an in-process auth state holder. The HTTP layer drives
// it from verified tokens; tests drive it directly.
type SessionSource struct {
	mu        sync.RWMutex
	userID    string
	listeners map[int]func(userID string, signedIn bool)
	nextID    int
}

// NewSessionSource creates a SessionSource with no user signed in.
func NewSessionSource() *SessionSource {
	return &SessionSource{
		listeners: make(map[int]func(string, bool)),
	}
}

// CurrentUserID implements Source.
func (s *SessionSource) CurrentUserID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

// Subscribe implements Source.
func (s *SessionSource) Subscribe(fn func(userID string, signedIn bool)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SignIn records userID as the signed-in user and notifies listeners.
// Signing in the already signed-in user is a no-op.
func (s *SessionSource) SignIn(userID string) {
	s.mu.Lock()
	if s.userID == userID {
		s.mu.Unlock()
		return
	}
	s.userID = userID
	fns := s.snapshotLocked()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(userID, true)
	}
}

// SignOut clears the signed-in user and notifies listeners. Signing out
// with no user signed in is a no-op.
func (s *SessionSource) SignOut() {
	s.mu.Lock()
	if s.userID == "" {
		s.mu.Unlock()
		return
	}
	userID := s.userID
	s.userID = ""
	fns := s.snapshotLocked()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(userID, false)
	}
}

// snapshotLocked copies the listener set so notification runs outside the
// lock and a listener can unsubscribe itself.
func (s *SessionSource) snapshotLocked() []func(string, bool) {
	fns := make([]func(string, bool), 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}
