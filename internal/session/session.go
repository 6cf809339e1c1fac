// Package session binds alerts to triage sessions. Binding is sticky: an
// alert for a user attaches to that user's most recently created session,
// and a session is created implicitly when none exists. Two alerts racing
// for the same new user may each create a session; the older one simply
// stops being selected, which is acceptable because sessions only group
// related cases and carry no state of their own.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
)

// Session groups the cases triaged for one user within an application.
type Session struct {
	ID        string    `json:"id"`
	App       string    `json:"app"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSession mints a session for an (app, user) pair. ULIDs keep ids
// sortable by creation time.
func NewSession(app, userID string) Session {
	return Session{
		ID:        ulid.Make().String(),
		App:       app,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
}

// Store persists sessions keyed by (app, user). List returns sessions in
// creation order, oldest first.
type Store interface {
	List(ctx context.Context, app, userID string) ([]Session, error)
	Create(ctx context.Context, s Session) error
}

// Binder resolves the session an alert belongs to. The app name is fixed
// at construction; one binder serves one application.
type Binder struct {
	store  Store
	app    string
	logger log.Logger
}

func NewBinder(store Store, app string, logger log.Logger) *Binder {
	return &Binder{store: store, app: app, logger: logger}
}

// Describe reports what this node does.
func (b *Binder) Describe() string {
	return "session binder: attach each alert to the user's most recent session, creating one on demand"
}

// Resolve returns the user's most recent session, creating one when the
// user has none.
func (b *Binder) Resolve(ctx context.Context, userID string) (Session, error) {
	sessions, err := b.store.List(ctx, b.app, userID)
	if err != nil {
		return Session{}, fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) > 0 {
		return sessions[len(sessions)-1], nil
	}

	s := NewSession(b.app, userID)
	if err := b.store.Create(ctx, s); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	b.logger.Info(ctx, "session created", "session_id", s.ID, "app", b.app, "user_id", userID)
	return s, nil
}
