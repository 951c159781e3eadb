package repository

import (
	"context"
	"encoding/json"

	"github.com/vitrine/cart-service/internal/domain"
)

// CartStats holds aggregate read statistics for the cart store.
type CartStats struct {
	ActiveCarts int64 `json:"active_carts"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Corrupt     int64 `json:"corrupt"`
}

// CartRepository defines the interface for cart persistence operations.
// Carts are keyed by the opaque session identifier and expire via the store's
// native TTL; expiry is sliding, refreshed on every write.
type CartRepository interface {
	// Get retrieves the cart for a session. Returns an error wrapping
	// pkg/errors.ErrNotFound when no cart exists, has expired, or the stored
	// payload is malformed (malformed payloads are logged and treated as
	// absent so the shopper can recover with a fresh cart).
	Get(ctx context.Context, sessionID string) (*domain.Cart, error)

	// Save persists the cart unconditionally, overwriting any existing value
	// and resetting the TTL.
	Save(ctx context.Context, cart *domain.Cart) error

	// SaveIfVersion persists the cart only if the stored version still equals
	// expectedVersion (0 for a key that must not exist yet). On success the
	// cart's version is bumped to expectedVersion+1 and the TTL is reset.
	// Returns false, nil when the version check fails.
	SaveIfVersion(ctx context.Context, cart *domain.Cart, expectedVersion int) (bool, error)

	// Touch resets the TTL on a live cart without rewriting its payload, so
	// reads can slide the expiry window without racing concurrent writes.
	// Touching an absent key is not an error.
	Touch(ctx context.Context, sessionID string) error

	// Delete removes the cart for a session. Deleting an absent key is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Exists reports whether a live cart exists for the session.
	Exists(ctx context.Context, sessionID string) (bool, error)

	// Stats returns aggregate read statistics for the store.
	Stats(ctx context.Context) (*CartStats, error)
}

// SnapshotRepository persists the point-in-time checkout snapshot (customer +
// address payload) captured right before payment. The payload is opaque to the
// store: it is written and read back verbatim.
type SnapshotRepository interface {
	Get(ctx context.Context, sessionID string) (json.RawMessage, error)
	Save(ctx context.Context, sessionID string, snapshot json.RawMessage) error
	Delete(ctx context.Context, sessionID string) error
	Exists(ctx context.Context, sessionID string) (bool, error)
}

// CorrelationRepository maps an externally-issued payment session identifier
// back to the cart session that initiated the checkout. Entries are written
// once per checkout attempt and read when the asynchronous payment
// confirmation arrives.
type CorrelationRepository interface {
	// Record stores the mapping, overwriting any prior entry for the same
	// payment session id.
	Record(ctx context.Context, paymentSessionID, cartSessionID string) error

	// Resolve returns the cart session id for a payment session. Returns an
	// error wrapping pkg/errors.ErrNotFound when the mapping was never
	// recorded or has been evicted.
	Resolve(ctx context.Context, paymentSessionID string) (string, error)

	// Delete removes the mapping once the confirmation has been processed.
	Delete(ctx context.Context, paymentSessionID string) error
}
