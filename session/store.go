package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists under the given token hash.
var ErrNotFound = errors.New("refresh session not found")

// ErrExpired is returned when the record exists but its expiry has passed.
// The store deletes the record before returning this.
var ErrExpired = errors.New("refresh session expired")

// ErrUnavailable is returned when the backing store cannot be reached.
var ErrUnavailable = errors.New("session store unavailable")

// Store persists refresh-token records. Implementations must make Rotate
// atomic: of any number of concurrent Rotate calls presenting the same old
// hash, exactly one succeeds and the rest observe ErrNotFound.
type Store interface {
	// Save persists rec under rec.TokenHash, replacing any existing record
	// with the same hash.
	Save(ctx context.Context, rec *Record) error

	// Get returns the record stored under tokenHash.
	Get(ctx context.Context, tokenHash string) (*Record, error)

	// Rotate atomically consumes the record under oldHash and re-keys it
	// under newHash with the new expiry. Returns the rotated record, or
	// ErrNotFound if oldHash has no record (including when a concurrent
	// rotation already consumed it), or ErrExpired if the record had lapsed
	// (the record is deleted either way).
	Rotate(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (*Record, error)

	// Delete removes the record under tokenHash. Deleting a missing record
	// is not an error.
	Delete(ctx context.Context, tokenHash string) error

	// DeleteAllForIdentity removes every record belonging to identityID and
	// returns how many were removed.
	DeleteAllForIdentity(ctx context.Context, identityID string) (int, error)

	// DeleteExpired prunes lapsed records and stale index entries, returning
	// the number of entries removed. Intended for a periodic sweep.
	DeleteExpired(ctx context.Context) (int, error)
}
