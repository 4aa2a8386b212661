package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/hivegate/domain"
	"go.pilab.hu/hivegate/internal/metrics"
)

// MemoryRegistry is a mutex-guarded in-process SessionRegistry. It is
// process-local state: sessions do not survive a restart. For multi-instance
// deployments use RedisRegistry or MongoRegistry behind the same interface.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	ttl      time.Duration
	now      Clock
	sweeping atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// MemoryOption configures a MemoryRegistry.
type MemoryOption func(*MemoryRegistry)

// WithClock overrides the registry's time source.
func WithClock(now Clock) MemoryOption {
	return func(r *MemoryRegistry) { r.now = now }
}

// NewMemoryRegistry creates an in-memory registry whose sessions live for
// ttl. If sweepInterval is positive, a background sweeper removes expired
// sessions on that schedule until Close is called.
func NewMemoryRegistry(ttl, sweepInterval time.Duration, opts ...MemoryOption) *MemoryRegistry {
	r := &MemoryRegistry{
		sessions: make(map[string]domain.Session),
		ttl:      ttl,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	if sweepInterval > 0 {
		r.wg.Add(1)
		go r.sweepLoop(sweepInterval)
	}
	return r
}

// Create implements SessionRegistry.Create.
func (r *MemoryRegistry) Create(_ context.Context, user domain.UserAttributes) (*domain.Session, error) {
	now := r.now()
	session := domain.Session{
		ID:        uuid.NewString(),
		User:      user,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	return &session, nil
}

// Get implements SessionRegistry.Get. The returned session is a copy;
// mutating it does not affect the registry.
func (r *MemoryRegistry) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	r.mu.RLock()
	session, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return &session, nil
}

// Revoke implements SessionRegistry.Revoke. The revoked flag is monotonic:
// once set it never reverts. The record stays in place until the sweep
// removes it after expiry, so validate can answer "revoked" rather than
// "not_found" for the remainder of the session's lifetime.
func (r *MemoryRegistry) Revoke(_ context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return false, nil
	}
	session.Revoked = true
	r.sessions[sessionID] = session
	return true, nil
}

// SweepExpired implements SessionRegistry.SweepExpired. A sweep already in
// progress makes concurrent calls a no-op.
func (r *MemoryRegistry) SweepExpired(_ context.Context) (int, error) {
	if !r.sweeping.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer r.sweeping.Store(false)

	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, session := range r.sessions {
		if now.After(session.ExpiresAt) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Count implements SessionRegistry.Count.
func (r *MemoryRegistry) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), nil
}

// Close stops the background sweeper.
func (r *MemoryRegistry) Close(_ context.Context) error {
	close(r.done)
	r.wg.Wait()
	return nil
}

func (r *MemoryRegistry) sweepLoop(interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := r.SweepExpired(context.Background())
			if err != nil {
				// Non-fatal: retried on the next tick.
				log.Warn().Err(err).Msg("session sweep failed")
				continue
			}
			if removed > 0 {
				if metrics.SessionsSweptTotal != nil {
					metrics.SessionsSweptTotal.Add(float64(removed))
				}
				log.Debug().Int("removed", removed).Msg("swept expired sessions")
			}
		case <-r.done:
			return
		}
	}
}

var _ SessionRegistry = (*MemoryRegistry)(nil)
