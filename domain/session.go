package domain

import "time"

// Session is the server-side record backing a user credential. It is the
// authoritative answer to "is this credential still usable": the credential's
// jti is the session ID, and a revoked or expired session invalidates the
// credential regardless of its embedded expiry.
type Session struct {
	ID        string         `bson:"_id"`
	User      UserAttributes `bson:"user"`
	CreatedAt time.Time      `bson:"created_at"`
	ExpiresAt time.Time      `bson:"expires_at"`
	Revoked   bool           `bson:"revoked,omitempty"`
}

// Expired reports whether the session's fixed lifetime has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Active reports whether the session can still back a credential.
func (s *Session) Active(now time.Time) bool {
	return !s.Revoked && !s.Expired(now)
}
