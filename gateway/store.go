package gateway

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

var (
	// ErrSessionNotFound means the browser cookie references no stored
	// credential, e.g. after logout or expiry.
	ErrSessionNotFound = errors.New("browser session not found")
	// ErrFlowNotFound means the callback's state parameter references no
	// pending login.
	ErrFlowNotFound = errors.New("login flow not found")
)

// browserSession is what the gateway keeps per logged-in browser: the signed
// credential it injects into proxied requests. The cookie itself is an
// opaque random ID and carries no claims.
type browserSession struct {
	Token string
}

// loginFlow is a pending redirect to the identity provider, keyed by the
// OAuth state parameter.
type loginFlow struct {
	// ReturnTo is where the browser gets sent after a successful callback.
	ReturnTo string
}

// SessionStore holds browser sessions and in-flight login flows, both with
// automatic expiry.
type SessionStore struct {
	sessions *ttlcache.Cache[string, browserSession]
	flows    *ttlcache.Cache[string, loginFlow]
}

// NewSessionStore creates a store whose browser sessions live sessionTTL and
// whose pending logins live flowTTL.
func NewSessionStore(sessionTTL, flowTTL time.Duration) *SessionStore {
	sessions := ttlcache.New(
		ttlcache.WithTTL[string, browserSession](sessionTTL),
		ttlcache.WithDisableTouchOnHit[string, browserSession](),
	)
	flows := ttlcache.New(
		ttlcache.WithTTL[string, loginFlow](flowTTL),
		ttlcache.WithDisableTouchOnHit[string, loginFlow](),
	)

	go sessions.Start()
	go flows.Start()

	return &SessionStore{sessions: sessions, flows: flows}
}

// Stop halts the background expirers.
func (s *SessionStore) Stop() {
	s.sessions.Stop()
	s.flows.Stop()
}

// CreateSession stores a credential and returns the opaque cookie ID.
func (s *SessionStore) CreateSession(token string) string {
	id := uuid.NewString()
	s.sessions.Set(id, browserSession{Token: token}, ttlcache.DefaultTTL)
	return id
}

// Session returns the credential behind a cookie ID.
func (s *SessionStore) Session(id string) (string, error) {
	item := s.sessions.Get(id)
	if item == nil {
		return "", ErrSessionNotFound
	}
	return item.Value().Token, nil
}

// DeleteSession drops a browser session. Missing IDs are fine.
func (s *SessionStore) DeleteSession(id string) {
	s.sessions.Delete(id)
}

// CreateFlow records a pending login and returns the state parameter.
func (s *SessionStore) CreateFlow(returnTo string) string {
	state := uuid.NewString()
	s.flows.Set(state, loginFlow{ReturnTo: returnTo}, ttlcache.DefaultTTL)
	return state
}

// ConsumeFlow retrieves and deletes a pending login. Each state is good for
// one callback.
func (s *SessionStore) ConsumeFlow(state string) (string, error) {
	item := s.flows.Get(state)
	if item == nil {
		return "", ErrFlowNotFound
	}
	s.flows.Delete(state)
	return item.Value().ReturnTo, nil
}
