package registry

import (
	"context"
	"errors"
	"time"

	"go.pilab.hu/hivegate/domain"
)

// ErrNotFound is returned by Get when no session exists for the given ID.
var ErrNotFound = errors.New("session not found")

// SessionRegistry is the authoritative store of session lifecycle state. It
// is the only component that can invalidate a previously issued credential
// before its natural expiry.
//
// Create, Get, and Revoke are linearizable with respect to each other: a
// Revoke that returns is visible to every subsequent Get, from any
// goroutine, with no stale-read window.
type SessionRegistry interface {
	// Create stores a new session for the given user and returns it. The
	// expiry is a fixed offset from creation and immutable afterwards.
	Create(ctx context.Context, user domain.UserAttributes) (*domain.Session, error)

	// Get returns the session for the given ID, or ErrNotFound. Revoked and
	// expired-but-unswept sessions are returned with their flags set so the
	// caller can report the precise reason.
	Get(ctx context.Context, sessionID string) (*domain.Session, error)

	// Revoke marks the session revoked and reports whether it existed.
	// Revoking an already-revoked or absent session is not an error.
	Revoke(ctx context.Context, sessionID string) (bool, error)

	// SweepExpired removes sessions whose expiry has passed and returns how
	// many were removed. Safe to call concurrently with itself.
	SweepExpired(ctx context.Context) (int, error)

	// Count returns the number of stored sessions, swept or not.
	Count(ctx context.Context) (int, error)

	// Close releases background resources.
	Close(ctx context.Context) error
}

// Clock is injectable time for tests. Implementations default to time.Now.
type Clock func() time.Time
