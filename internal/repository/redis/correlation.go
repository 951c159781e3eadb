package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/vitrine/cart-service/pkg/errors"
)

const correlationKeyPrefix = "paymentsession:"

// CorrelationRepository implements repository.CorrelationRepository using
// Redis. Mappings expire with the same TTL as the cart they point to, so the
// namespace cannot grow without bound when confirmations never arrive.
type CorrelationRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCorrelationRepository creates a new Redis-backed session correlation repository.
func NewCorrelationRepository(client *redis.Client, ttl time.Duration) *CorrelationRepository {
	return &CorrelationRepository{
		client: client,
		ttl:    ttl,
	}
}

// Record stores the payment-session to cart-session mapping, overwriting any
// prior entry for the same payment session.
func (r *CorrelationRepository) Record(ctx context.Context, paymentSessionID, cartSessionID string) error {
	key := correlationKeyPrefix + paymentSessionID
	if err := r.client.Set(ctx, key, cartSessionID, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set correlation: %w", err)
	}
	return nil
}

// Resolve returns the cart session id recorded for a payment session.
func (r *CorrelationRepository) Resolve(ctx context.Context, paymentSessionID string) (string, error) {
	val, err := r.client.Get(ctx, correlationKeyPrefix+paymentSessionID).Result()
	if err != nil {
		if err == redis.Nil {
			return "", apperrors.NotFound("payment session", paymentSessionID)
		}
		return "", fmt.Errorf("redis get correlation: %w", err)
	}
	return val, nil
}

// Delete removes the mapping for a payment session.
func (r *CorrelationRepository) Delete(ctx context.Context, paymentSessionID string) error {
	if err := r.client.Del(ctx, correlationKeyPrefix+paymentSessionID).Err(); err != nil {
		return fmt.Errorf("redis del correlation: %w", err)
	}
	return nil
}
