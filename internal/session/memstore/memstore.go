// Package memstore provides an in-memory implementation of session.Store.
// Suitable for dev/testing.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/warden/internal/session"
)

// Store holds sessions per (app, user) in creation order.
type Store struct {
	mu       sync.RWMutex
	sessions map[string][]session.Session
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{sessions: make(map[string][]session.Session)}
}

func key(app, userID string) string { return app + "\x00" + userID }

// List returns the pair's sessions oldest first.
func (s *Store) List(_ context.Context, app, userID string) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k := key(app, userID)
	out := make([]session.Session, len(s.sessions[k]))
	copy(out, s.sessions[k])
	return out, nil
}

// Create appends a session for its (app, user) pair.
func (s *Store) Create(_ context.Context, sess session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(sess.App, sess.UserID)
	s.sessions[k] = append(s.sessions[k], sess)
	return nil
}
