package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"

	"github.com/vitrine/cart-service/internal/domain"
	"github.com/vitrine/cart-service/internal/repository"
	apperrors "github.com/vitrine/cart-service/pkg/errors"
)

const cartKeyPrefix = "cart:session:"

var cartStoreReads = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cart_store_reads_total",
		Help: "Cart store reads by result (hit, miss, corrupt)",
	},
	[]string{"result"},
)

// saveIfVersionScript compares the version embedded in the stored cart JSON
// against the expected one and performs the SET+PEXPIRE atomically. An
// expected version of 0 means the key must not exist yet.
var saveIfVersionScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
local expected = tonumber(ARGV[2])
if current == false then
  if expected ~= 0 then
    return 0
  end
else
  local stored = cjson.decode(current)
  if tonumber(stored['version']) ~= expected then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// CartRepository implements repository.CartRepository using Redis.
type CartRepository struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCartRepository creates a new Redis-backed cart repository.
func NewCartRepository(client *redis.Client, ttl time.Duration, logger *slog.Logger) *CartRepository {
	return &CartRepository{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Get retrieves a cart by session ID from Redis. A malformed stored payload is
// logged and reported as not found so the shopper can start over with a fresh
// cart instead of being stuck behind a 500.
func (r *CartRepository) Get(ctx context.Context, sessionID string) (*domain.Cart, error) {
	key := cartKeyPrefix + sessionID

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			cartStoreReads.WithLabelValues("miss").Inc()
			return nil, apperrors.NotFound("cart", sessionID)
		}
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		cartStoreReads.WithLabelValues("corrupt").Inc()
		r.logger.WarnContext(ctx, "discarding malformed stored cart",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.NotFound("cart", sessionID)
	}

	cartStoreReads.WithLabelValues("hit").Inc()
	return &cart, nil
}

// Save persists a cart to Redis with the configured TTL.
func (r *CartRepository) Save(ctx context.Context, cart *domain.Cart) error {
	key := cartKeyPrefix + cart.SessionID

	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}

	return nil
}

// SaveIfVersion persists the cart only if the stored version still matches
// expectedVersion. The compare-and-set runs as a Lua script so concurrent
// read-modify-write cycles for the same session cannot lose updates. On
// success the cart's version is bumped to expectedVersion+1.
func (r *CartRepository) SaveIfVersion(ctx context.Context, cart *domain.Cart, expectedVersion int) (bool, error) {
	key := cartKeyPrefix + cart.SessionID

	candidate := *cart
	candidate.Version = expectedVersion + 1

	data, err := json.Marshal(&candidate)
	if err != nil {
		return false, fmt.Errorf("marshal cart: %w", err)
	}

	res, err := saveIfVersionScript.Run(ctx, r.client, []string{key},
		data, expectedVersion, r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis save cart if version: %w", err)
	}
	if res != 1 {
		return false, nil
	}

	cart.Version = candidate.Version
	return true, nil
}

// Touch slides the cart's expiry window without rewriting the payload, so a
// read never clobbers a concurrent versioned write.
func (r *CartRepository) Touch(ctx context.Context, sessionID string) error {
	if err := r.client.Expire(ctx, cartKeyPrefix+sessionID, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis expire cart: %w", err)
	}
	return nil
}

// Delete removes a cart from Redis by session ID.
func (r *CartRepository) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, cartKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("redis del cart: %w", err)
	}
	return nil
}

// Exists reports whether a live cart exists for the session.
func (r *CartRepository) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Exists(ctx, cartKeyPrefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists cart: %w", err)
	}
	return n > 0, nil
}

// Stats scans the cart key namespace and combines the live-key count with the
// process-local read counters.
func (r *CartRepository) Stats(ctx context.Context) (*repository.CartStats, error) {
	var (
		cursor uint64
		count  int64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, cartKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan carts: %w", err)
		}
		count += int64(len(keys))
		cursor = next
		if cursor == 0 {
			break
		}
	}

	stats := &repository.CartStats{ActiveCarts: count}
	stats.Hits = counterValue("hit")
	stats.Misses = counterValue("miss")
	stats.Corrupt = counterValue("corrupt")
	return stats, nil
}

func counterValue(result string) int64 {
	m, err := cartStoreReads.GetMetricWithLabelValues(result)
	if err != nil {
		return 0
	}
	pb := &dto.Metric{}
	if err := m.Write(pb); err != nil {
		return 0
	}
	return int64(pb.GetCounter().GetValue())
}
