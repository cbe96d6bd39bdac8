package permission

import (
	"context"
	"errors"
)

// ErrStoreUnavailable wraps failures of an external cache backend.
var ErrStoreUnavailable = errors.New("permission cache store unavailable")

// Generation identifies the invalidation state observed by a reader. A fill
// is accepted only if neither counter moved since the matching Load.
type Generation struct {
	Global uint64
	User   uint64
}

// Store is a cache backend. Implementations must replace entries as a whole
// so a reader sees either a complete entry or none.
type Store interface {
	// Load returns the live entry for userID (nil on miss or expiry) and the
	// generation observed with it.
	Load(ctx context.Context, userID string) (*Entry, Generation, error)
	// Fill stores e unless an invalidation affecting e.UserID happened after
	// gen was observed. It reports whether e was stored.
	Fill(ctx context.Context, e *Entry, gen Generation) (bool, error)
	// Delete removes entries for the given users and bumps their generations.
	Delete(ctx context.Context, userIDs ...string) error
	// Clear removes every entry and bumps the global generation.
	Clear(ctx context.Context) error
	// Len counts cached entries.
	Len(ctx context.Context) (int, error)
}
