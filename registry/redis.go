package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/hivegate/domain"
)

// RedisRegistry is a SessionRegistry over a shared Redis instance, for
// deployments where more than one issuer process must agree on session
// state. Each session is a hash with a key TTL at the session expiry, so
// Redis itself performs the sweep; SweepExpired only mops up stragglers
// whose TTL was lost (e.g. after a RESTORE without TTL).
type RedisRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    Clock
}

// NewRedisRegistry creates a Redis-backed registry. Keys are namespaced
// under prefix.
func NewRedisRegistry(client *redis.Client, prefix string, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (r *RedisRegistry) key(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, sessionID)
}

// revokeScript flips the revoked flag only if the key still exists, in one
// atomic step. A bare EXISTS-then-HSET pair has a window in which the key's
// TTL can fire, and the HSET would then resurrect the hash with no TTL and
// no expiry field.
var revokeScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	redis.call("HSET", KEYS[1], "revoked", 1)
	return 1
end
return 0
`)

// Create implements SessionRegistry.Create.
func (r *RedisRegistry) Create(ctx context.Context, user domain.UserAttributes) (*domain.Session, error) {
	now := r.now()
	session := domain.Session{
		ID:        uuid.NewString(),
		User:      user,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}

	userJSON, err := json.Marshal(session.User)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user attributes: %w", err)
	}

	key := r.key(session.ID)
	fields := map[string]interface{}{
		"user":       string(userJSON),
		"created_at": session.CreatedAt.Unix(),
		"expires_at": session.ExpiresAt.Unix(),
		"revoked":    0,
	}

	if _, err := r.client.HSet(ctx, key, fields).Result(); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	// Redis expires the record at session expiry, which is the sweep.
	if _, err := r.client.ExpireAt(ctx, key, session.ExpiresAt).Result(); err != nil {
		return nil, fmt.Errorf("failed to set session expiry: %w", err)
	}

	return &session, nil
}

// Get implements SessionRegistry.Get.
func (r *RedisRegistry) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	res, err := r.client.HGetAll(ctx, r.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}
	return parseSessionHash(sessionID, res)
}

// Revoke implements SessionRegistry.Revoke. The hash field flips but the key
// TTL is left untouched, so the record keeps answering "revoked" until its
// natural expiry.
func (r *RedisRegistry) Revoke(ctx context.Context, sessionID string) (bool, error) {
	res, err := revokeScript.Run(ctx, r.client, []string{r.key(sessionID)}).Int()
	if err != nil {
		return false, fmt.Errorf("failed to revoke session: %w", err)
	}
	return res == 1, nil
}

// SweepExpired implements SessionRegistry.SweepExpired.
func (r *RedisRegistry) SweepExpired(ctx context.Context) (int, error) {
	var (
		removed int
		cursor  uint64
		now     = r.now()
		pattern = r.key("*")
	)

	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan sessions: %w", err)
		}

		for _, key := range keys {
			raw, err := r.client.HGet(ctx, key, "expires_at").Result()
			if err == redis.Nil {
				// A hash without an expiry field is damaged and would
				// otherwise live forever. Remove it.
				deleted, err := r.client.Del(ctx, key).Result()
				if err != nil {
					log.Warn().Err(err).Str("key", key).Msg("failed to delete malformed session")
					continue
				}
				removed += int(deleted)
				continue
			} else if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("failed to read session expiry during sweep")
				continue
			}

			expiresAt, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("malformed session expiry during sweep")
				continue
			}

			if time.Unix(expiresAt, 0).Before(now) {
				deleted, err := r.client.Del(ctx, key).Result()
				if err != nil {
					log.Warn().Err(err).Str("key", key).Msg("failed to delete expired session")
					continue
				}
				removed += int(deleted)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return removed, nil
}

// Count implements SessionRegistry.Count.
func (r *RedisRegistry) Count(ctx context.Context) (int, error) {
	var (
		count   int
		cursor  uint64
		pattern = r.key("*")
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan sessions: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return count, nil
}

// Close implements SessionRegistry.Close.
func (r *RedisRegistry) Close(_ context.Context) error {
	return r.client.Close()
}

func parseSessionHash(sessionID string, fields map[string]string) (*domain.Session, error) {
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed created_at for session %s: %w", sessionID, err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed expires_at for session %s: %w", sessionID, err)
	}

	var user domain.UserAttributes
	if err := json.Unmarshal([]byte(fields["user"]), &user); err != nil {
		return nil, fmt.Errorf("malformed user attributes for session %s: %w", sessionID, err)
	}

	return &domain.Session{
		ID:        sessionID,
		User:      user,
		CreatedAt: time.Unix(createdAt, 0),
		ExpiresAt: time.Unix(expiresAt, 0),
		Revoked:   fields["revoked"] == "1",
	}, nil
}

var _ SessionRegistry = (*RedisRegistry)(nil)
