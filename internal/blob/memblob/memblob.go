// Package memblob provides an in-memory implementation of blob.Store.
// Suitable for dev/testing.
package memblob

import (
	"context"
	"sync"

	"github.com/linnemanlabs/warden/internal/blob"
)

// Store holds objects in a map guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

// Put stores a copy of data at path, overwriting any existing object.
func (s *Store) Put(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[path] = cp
	return nil
}

// Get returns a copy of the object at path, or blob.ErrNotFound.
func (s *Store) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, blob.ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Delete removes the object at path. Deleting a missing object is not an error.
func (s *Store) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

// Paths returns the paths of all stored objects, in no particular order.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.objects))
	for p := range s.objects {
		out = append(out, p)
	}
	return out
}

// Exists reports whether an object is present at path.
func (s *Store) Exists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[path]
	return ok, nil
}

// Len returns the number of stored objects. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
