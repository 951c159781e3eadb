package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/vitrine/cart-service/pkg/errors"
)

const snapshotKeyPrefix = "checkout:snapshot:"

// SnapshotRepository implements repository.SnapshotRepository using Redis.
// The snapshot payload is opaque: it is stored and returned verbatim, with its
// own TTL independent of the cart's.
type SnapshotRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotRepository creates a new Redis-backed checkout snapshot repository.
func NewSnapshotRepository(client *redis.Client, ttl time.Duration) *SnapshotRepository {
	return &SnapshotRepository{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves the checkout snapshot for a session.
func (r *SnapshotRepository) Get(ctx context.Context, sessionID string) (json.RawMessage, error) {
	data, err := r.client.Get(ctx, snapshotKeyPrefix+sessionID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.NotFound("checkout snapshot", sessionID)
		}
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}
	return data, nil
}

// Save stores the checkout snapshot with the configured TTL, overwriting any
// existing snapshot for the session.
func (r *SnapshotRepository) Save(ctx context.Context, sessionID string, snapshot json.RawMessage) error {
	if err := r.client.Set(ctx, snapshotKeyPrefix+sessionID, []byte(snapshot), r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	return nil
}

// Delete removes the checkout snapshot for a session.
func (r *SnapshotRepository) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, snapshotKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("redis del snapshot: %w", err)
	}
	return nil
}

// Exists reports whether a snapshot exists for the session.
func (r *SnapshotRepository) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Exists(ctx, snapshotKeyPrefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists snapshot: %w", err)
	}
	return n > 0, nil
}
