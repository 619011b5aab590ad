// Package session holds the key/value stores the orchestrator keeps the
// logged in user under, keyed by a caller supplied handle.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound no record is stored under the handle
	ErrNotFound = errors.New("session not found")
	// ErrInvalidHandle the handle is empty
	ErrInvalidHandle = errors.New("invalid session handle")
)

// DefaultTTL is how long a record lives when the store has no explicit TTL.
const DefaultTTL = 24 * time.Hour

// Record is what gets stored for a logged in user.
type Record struct {
	ID string `json:"id"`
}

// Store is an opaque key/value store for session records.
type Store interface {
	Get(ctx context.Context, handle string) (*Record, error)
	Put(ctx context.Context, handle string, record Record) error
	Delete(ctx context.Context, handle string) error
}
