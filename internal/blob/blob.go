// Package blob defines the object-store contract the escalation mailbox and
// evidence retrieval are built on. The namespace is shared with the external
// human reviewer; ticket ids partition it, so implementations need no
// locking beyond per-key atomicity.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no object exists at the path.
var ErrNotFound = errors.New("blob: object not found")

// Store is a minimal object store: put, get, delete, existence check.
type Store interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}
