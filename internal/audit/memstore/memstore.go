// Package memstore provides an in-memory implementation of audit.Store.
// Suitable for dev/testing.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/warden/internal/audit"
	"github.com/linnemanlabs/warden/internal/ticket"
)

// Store holds audit rows in memory keyed by ticket id.
type Store struct {
	mu   sync.RWMutex
	rows map[ticket.ID]*audit.Row
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{rows: make(map[ticket.ID]*audit.Row)}
}

// Upsert stores a copy of the row under the ticket id, replacing any prior
// state for that ticket.
func (s *Store) Upsert(_ context.Context, id ticket.ID, row *audit.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *row
	cp.TicketID = id.String()
	s.rows[id] = &cp
	return nil
}

// Get retrieves the row for a ticket id. Returns a copy.
func (s *Store) Get(_ context.Context, id ticket.ID) (*audit.Row, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// Len returns the number of distinct ticket lineages. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
