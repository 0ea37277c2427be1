package session

import (
	"context"
	"errors"
	"time"
)

// Typed store errors (spec.md §4.3: "typed error (NotFound, Conflict,
// Backend)").
var (
	ErrNotFound = errors.New("session: not found")
	ErrConflict = errors.New("session: conflict")
)

// BackendError wraps an underlying storage failure (SQL driver error,
// connection failure, ...) so callers can distinguish it from the
// well-known NotFound/Conflict cases with errors.As.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return "session: backend error during " + e.Op + ": " + e.Err.Error() }
func (e *BackendError) Unwrap() error { return e.Err }

// Capabilities is an opaque JSON blob — the store doesn't interpret
// capability contents, only persists them.
type Capabilities = []byte

// Store is the session persistence contract (spec.md §4.3). Both backends
// (in-memory, SQL) implement it identically; callers never branch on
// backend type.
type Store interface {
	// Create mints a new session id (server-minted, collision-resistant,
	// time-ordered) and persists the record.
	Create(ctx context.Context) (*Info, error)
	// CreateWithID persists a record under a caller-supplied id.
	CreateWithID(ctx context.Context, id string) (*Info, error)
	Get(ctx context.Context, id string) (*Info, error)
	// Update performs a full replacement of the mutable top-level fields
	// (client info, capabilities, negotiated version, initialized,
	// terminated). State/metadata are mutated through the keyed setters
	// below, not through Update.
	Update(ctx context.Context, info *Info) error
	Delete(ctx context.Context, id string) error

	SetState(ctx context.Context, id, key string, value Capabilities) error
	GetState(ctx context.Context, id, key string) (Capabilities, bool, error)
	SetMetadata(ctx context.Context, id, key string, value Capabilities) error
	GetMetadata(ctx context.Context, id, key string) (Capabilities, bool, error)

	// Touch bumps last_active_at to now.
	Touch(ctx context.Context, id string) error

	// ExpireOlderThan deletes sessions whose last_active_at+ttl is in the
	// past and returns their ids, for the TTL sweep (spec.md §4.3).
	ExpireOlderThan(ctx context.Context, ttl time.Duration) ([]string, error)

	Close() error
}
