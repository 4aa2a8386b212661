package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.pilab.hu/hivegate/domain"
)

// SessionsCollection is the MongoDB collection backing MongoRegistry.
const SessionsCollection = "sessions"

// MongoRegistry is a SessionRegistry over MongoDB, for deployments that
// want sessions to survive issuer restarts. A TTL index on expires_at has
// MongoDB remove expired records on its own cadence (roughly once a minute);
// SweepExpired deletes eagerly for a tighter bound.
type MongoRegistry struct {
	collection *mongo.Collection
	ttl        time.Duration
	now        Clock
}

// NewMongoRegistry creates a Mongo-backed registry and ensures its indexes.
func NewMongoRegistry(ctx context.Context, db *mongo.Database, ttl time.Duration) (*MongoRegistry, error) {
	r := &MongoRegistry{
		collection: db.Collection(SessionsCollection),
		ttl:        ttl,
		now:        time.Now,
	}

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
		{
			Keys: bson.D{{Key: "revoked", Value: 1}},
		},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		// Likely the indexes already exist; anything else shows up on use.
		log.Warn().Err(err).Msg("could not ensure session indexes")
	}

	return r, nil
}

// Create implements SessionRegistry.Create.
func (r *MongoRegistry) Create(ctx context.Context, user domain.UserAttributes) (*domain.Session, error) {
	now := r.now().UTC()
	session := domain.Session{
		ID:        uuid.NewString(),
		User:      user,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}

	if _, err := r.collection.InsertOne(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return &session, nil
}

// Get implements SessionRegistry.Get.
func (r *MongoRegistry) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	err := r.collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	return &session, nil
}

// Revoke implements SessionRegistry.Revoke.
func (r *MongoRegistry) Revoke(ctx context.Context, sessionID string) (bool, error) {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": sessionID},
		bson.M{"$set": bson.M{"revoked": true}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to revoke session: %w", err)
	}
	return res.MatchedCount > 0, nil
}

// SweepExpired implements SessionRegistry.SweepExpired.
func (r *MongoRegistry) SweepExpired(ctx context.Context) (int, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{
		"expires_at": bson.M{"$lt": r.now().UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	return int(res.DeletedCount), nil
}

// Count implements SessionRegistry.Count.
func (r *MongoRegistry) Count(ctx context.Context) (int, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return int(n), nil
}

// Close implements SessionRegistry.Close. The mongo client is owned by the
// caller and closed there.
func (r *MongoRegistry) Close(_ context.Context) error {
	return nil
}

var _ SessionRegistry = (*MongoRegistry)(nil)
