package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vitrine/cart-service/internal/domain"
	"github.com/vitrine/cart-service/internal/event"
	"github.com/vitrine/cart-service/internal/product"
	"github.com/vitrine/cart-service/internal/repository"
	apperrors "github.com/vitrine/cart-service/pkg/errors"
)

// Cart operation upper-bound limits to prevent abuse.
const (
	// MaxQuantityPerItem is the maximum quantity allowed for a single cart item.
	MaxQuantityPerItem = 100
	// MaxItemsPerCart is the maximum number of distinct items allowed in a cart.
	MaxItemsPerCart = 50

	// maxConflictRetries bounds how many times a read-modify-write is retried
	// when a concurrent writer wins the version race.
	maxConflictRetries = 3
)

// AddItemInput holds the parameters for adding an item to the cart. Request
// validation happens at the HTTP layer; the domain enforces its own invariants.
type AddItemInput struct {
	ProductID    string  `json:"product_id"`
	ProductName  string  `json:"product_name"`
	Description  string  `json:"description"`
	ImageURL     string  `json:"image_url"`
	Quantity     int     `json:"quantity"`
	VatRate      float64 `json:"vat_rate"`
	UnitPriceTTC float64 `json:"unit_price_ttc"`
}

// UpdateQuantityInput holds the parameters for updating an item quantity.
type UpdateQuantityInput struct {
	Quantity int `json:"quantity"`
}

// CheckoutData is the joined read of a cart and its checkout snapshot.
type CheckoutData struct {
	Cart     *domain.Cart    `json:"cart"`
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
}

// checkoutSnapshot is the loosely-typed shape of the snapshot payload. Only
// the three top-level sections are interpreted; everything inside them is
// passed through untouched.
type checkoutSnapshot struct {
	Customer        json.RawMessage `json:"customer"`
	ShippingAddress json.RawMessage `json:"shipping_address"`
	BillingAddress  json.RawMessage `json:"billing_address"`
}

// OrderData is the document assembled for order processing once payment is
// confirmed: the cart's priced lines joined with the checkout snapshot.
type OrderData struct {
	SessionID       string                     `json:"session_id"`
	Items           []domain.CartItem          `json:"items"`
	Subtotal        float64                    `json:"subtotal"`
	Tax             float64                    `json:"tax"`
	Total           float64                    `json:"total"`
	VatBreakdown    []domain.VatBreakdownEntry `json:"vat_breakdown"`
	Customer        json.RawMessage            `json:"customer"`
	ShippingAddress json.RawMessage            `json:"shipping_address"`
	BillingAddress  json.RawMessage            `json:"billing_address,omitempty"`
	PreparedAt      time.Time                  `json:"prepared_at"`
}

// CartService implements the business logic for cart operations.
type CartService struct {
	carts     repository.CartRepository
	snapshots repository.SnapshotRepository
	stock     product.Checker
	producer  *event.Producer
	logger    *slog.Logger
	cartTTL   time.Duration
	now       func() time.Time
}

// NewCartService creates a new cart service.
func NewCartService(
	carts repository.CartRepository,
	snapshots repository.SnapshotRepository,
	stock product.Checker,
	producer *event.Producer,
	logger *slog.Logger,
	cartTTL time.Duration,
) *CartService {
	return &CartService{
		carts:     carts,
		snapshots: snapshots,
		stock:     stock,
		producer:  producer,
		logger:    logger,
		cartTTL:   cartTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreateCart returns the live cart for a session, creating and persisting
// an empty one when none exists. Reading slides the expiry window.
func (s *CartService) GetOrCreateCart(ctx context.Context, sessionID string) (*domain.Cart, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}

	cart, err := s.getCart(ctx, sessionID)
	if err == nil {
		if touchErr := s.carts.Touch(ctx, sessionID); touchErr != nil {
			s.logger.WarnContext(ctx, "failed to slide cart expiry",
				slog.String("session_id", sessionID),
				slog.String("error", touchErr.Error()),
			)
			return cart, nil
		}
		// The key's TTL just slid; report the matching expiry.
		renewed := cart.Renew(s.now(), s.cartTTL)
		return &renewed, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("get cart: %w", err)
	}

	fresh := domain.NewCart(sessionID, s.now(), s.cartTTL)
	ok, err := s.carts.SaveIfVersion(ctx, &fresh, 0)
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	if !ok {
		// Another request created the cart between our read and write.
		cart, err = s.getCart(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("get cart after create race: %w", err)
		}
		return cart, nil
	}

	s.logger.InfoContext(ctx, "cart created",
		slog.String("session_id", sessionID),
		slog.String("cart_id", fresh.ID),
	)

	return &fresh, nil
}

// AddItem adds an item to the session's cart after validating stock with the
// product service. Adding the same product again merges quantities. Conflicting
// concurrent writes are retried a bounded number of times.
func (s *CartService) AddItem(ctx context.Context, sessionID string, input AddItemInput) (*domain.Cart, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}
	if input.Quantity > MaxQuantityPerItem {
		return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
	}

	if _, err := s.stock.CheckAvailability(ctx, input.ProductID, input.Quantity); err != nil {
		return nil, err
	}

	var result domain.Cart
	err := s.withConflictRetry(ctx, sessionID, func() error {
		cart, err := s.GetOrCreateCart(ctx, sessionID)
		if err != nil {
			return err
		}

		item, err := domain.NewCartItem(domain.NewCartItemInput{
			ProductID:    input.ProductID,
			ProductName:  input.ProductName,
			Description:  input.Description,
			ImageURL:     input.ImageURL,
			Quantity:     input.Quantity,
			VatRate:      input.VatRate,
			UnitPriceTTC: input.UnitPriceTTC,
		}, s.now())
		if err != nil {
			return err
		}

		updated, err := cart.AddItem(item, s.now())
		if err != nil {
			return err
		}
		if len(updated.Items) > MaxItemsPerCart {
			return apperrors.InvalidInput(fmt.Sprintf("cart must not contain more than %d items", MaxItemsPerCart))
		}
		if idx := indexOf(updated.Items, input.ProductID); idx >= 0 && updated.Items[idx].Quantity > MaxQuantityPerItem {
			return apperrors.InvalidInput(fmt.Sprintf("combined quantity must not exceed %d", MaxQuantityPerItem))
		}

		saved, ok, err := s.saveVersioned(ctx, updated, cart.Version)
		if err != nil {
			return fmt.Errorf("save cart: %w", err)
		}
		if !ok {
			return errStaleWrite
		}
		result = saved
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishCartUpdated(ctx, &result)

	s.logger.InfoContext(ctx, "item added to cart",
		slog.String("session_id", sessionID),
		slog.String("product_id", input.ProductID),
		slog.Int("quantity", input.Quantity),
	)

	return &result, nil
}

// UpdateItemQuantity sets the quantity of an item. A quantity of zero or less
// removes the item, matching the storefront's "set to 0 to delete" behavior.
func (s *CartService) UpdateItemQuantity(ctx context.Context, sessionID, productID string, quantity int) (*domain.Cart, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}
	if quantity > MaxQuantityPerItem {
		return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
	}

	var result domain.Cart
	err := s.withConflictRetry(ctx, sessionID, func() error {
		cart, err := s.getCart(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("get cart for update: %w", err)
		}

		updated, err := cart.UpdateItemQuantity(productID, quantity, s.now())
		if err != nil {
			return err
		}

		saved, ok, err := s.saveVersioned(ctx, updated, cart.Version)
		if err != nil {
			return fmt.Errorf("save cart: %w", err)
		}
		if !ok {
			return errStaleWrite
		}
		result = saved
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishCartUpdated(ctx, &result)

	s.logger.InfoContext(ctx, "cart item quantity updated",
		slog.String("session_id", sessionID),
		slog.String("product_id", productID),
		slog.Int("quantity", quantity),
	)

	return &result, nil
}

// RemoveItem removes a specific item from the cart.
func (s *CartService) RemoveItem(ctx context.Context, sessionID, productID string) (*domain.Cart, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}

	var result domain.Cart
	err := s.withConflictRetry(ctx, sessionID, func() error {
		cart, err := s.getCart(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("get cart for remove: %w", err)
		}

		updated, err := cart.RemoveItem(productID, s.now())
		if err != nil {
			return err
		}

		saved, ok, err := s.saveVersioned(ctx, updated, cart.Version)
		if err != nil {
			return fmt.Errorf("save cart: %w", err)
		}
		if !ok {
			return errStaleWrite
		}
		result = saved
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishCartUpdated(ctx, &result)

	s.logger.InfoContext(ctx, "item removed from cart",
		slog.String("session_id", sessionID),
		slog.String("product_id", productID),
	)

	return &result, nil
}

// ClearCart empties the cart's items while preserving any attached checkout
// data, so a cleared cart can still complete an in-flight checkout.
func (s *CartService) ClearCart(ctx context.Context, sessionID string) (*domain.Cart, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}

	var result domain.Cart
	err := s.withConflictRetry(ctx, sessionID, func() error {
		cart, err := s.getCart(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("get cart for clear: %w", err)
		}

		updated := cart.Clear(s.now())

		saved, ok, err := s.saveVersioned(ctx, updated, cart.Version)
		if err != nil {
			return fmt.Errorf("save cart: %w", err)
		}
		if !ok {
			return errStaleWrite
		}
		result = saved
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.producer.PublishCartCleared(ctx, sessionID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.cleared event",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "cart cleared",
		slog.String("session_id", sessionID),
	)

	return &result, nil
}

// AttachCheckoutSnapshot stores the customer-and-address snapshot captured at
// checkout time. The cart must exist; the payload must at least carry a
// customer and a shipping address.
func (s *CartService) AttachCheckoutSnapshot(ctx context.Context, sessionID string, snapshot json.RawMessage) error {
	if sessionID == "" {
		return apperrors.InvalidInput("session id is required")
	}

	var parsed checkoutSnapshot
	if err := json.Unmarshal(snapshot, &parsed); err != nil {
		return apperrors.InvalidInput("snapshot must be a JSON object")
	}
	if len(parsed.Customer) == 0 {
		return apperrors.InvalidInput("snapshot customer is required")
	}
	if len(parsed.ShippingAddress) == 0 {
		return apperrors.InvalidInput("snapshot shipping_address is required")
	}

	exists, err := s.carts.Exists(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("check cart exists: %w", err)
	}
	if !exists {
		return apperrors.NotFound("cart", sessionID)
	}

	if err := s.snapshots.Save(ctx, sessionID, snapshot); err != nil {
		return fmt.Errorf("save checkout snapshot: %w", err)
	}

	s.logger.InfoContext(ctx, "checkout snapshot attached",
		slog.String("session_id", sessionID),
	)

	return nil
}

// GetCheckoutSnapshot returns the stored snapshot for a session.
func (s *CartService) GetCheckoutSnapshot(ctx context.Context, sessionID string) (json.RawMessage, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}
	snapshot, err := s.snapshots.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get checkout snapshot: %w", err)
	}
	return snapshot, nil
}

// DeleteCheckoutSnapshot removes the snapshot for a session.
func (s *CartService) DeleteCheckoutSnapshot(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return apperrors.InvalidInput("session id is required")
	}
	if err := s.snapshots.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete checkout snapshot: %w", err)
	}
	return nil
}

// GetCheckoutData returns the cart joined with its snapshot. The cart must
// exist; the snapshot is optional at this stage of the funnel.
func (s *CartService) GetCheckoutData(ctx context.Context, sessionID string) (*CheckoutData, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}

	cart, err := s.getCart(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}

	data := &CheckoutData{Cart: cart}

	snapshot, err := s.snapshots.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("get checkout snapshot: %w", err)
		}
	} else {
		data.Snapshot = snapshot
	}

	return data, nil
}

// PrepareOrderData assembles the order document from the cart and its
// snapshot. This is a read-only join: nothing is mutated or cleared, so the
// operation can be retried safely until payment is confirmed. Both sides must
// exist and the cart must have items.
func (s *CartService) PrepareOrderData(ctx context.Context, sessionID string) (*OrderData, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}

	cart, err := s.getCart(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if len(cart.Items) == 0 {
		return nil, apperrors.InvalidInput("cart has no items to order")
	}

	snapshot, err := s.snapshots.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get checkout snapshot: %w", err)
	}

	var parsed checkoutSnapshot
	if err := json.Unmarshal(snapshot, &parsed); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("stored snapshot is not valid JSON: %w", err))
	}

	return &OrderData{
		SessionID:       sessionID,
		Items:           cart.Items,
		Subtotal:        cart.Subtotal,
		Tax:             cart.Tax,
		Total:           cart.Total,
		VatBreakdown:    cart.VatBreakdown,
		Customer:        parsed.Customer,
		ShippingAddress: parsed.ShippingAddress,
		BillingAddress:  parsed.BillingAddress,
		PreparedAt:      s.now(),
	}, nil
}

// ResolveCartSessionID reports whether a client-supplied cart session id still
// maps to a live cart. The storefront calls this before reusing a session id
// it persisted on the client side, so an expired cart gets a fresh session
// instead of a surprise 404 later.
func (s *CartService) ResolveCartSessionID(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, apperrors.InvalidInput("cart session id is required")
	}
	exists, err := s.carts.Exists(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("check cart exists: %w", err)
	}
	return exists, nil
}

// Stats returns aggregate cart store statistics.
func (s *CartService) Stats(ctx context.Context) (*repository.CartStats, error) {
	stats, err := s.carts.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("cart stats: %w", err)
	}
	return stats, nil
}

// errStaleWrite signals that SaveIfVersion lost the version race and the whole
// read-modify-write should run again.
var errStaleWrite = errors.New("stale cart write")

// saveVersioned renews the cart's expiry and persists it against the expected
// version. Every write slides expires_at to now+TTL in lockstep with the PX
// the store puts on the key.
func (s *CartService) saveVersioned(ctx context.Context, cart domain.Cart, expectedVersion int) (domain.Cart, bool, error) {
	renewed := cart.Renew(s.now(), s.cartTTL)
	ok, err := s.carts.SaveIfVersion(ctx, &renewed, expectedVersion)
	return renewed, ok, err
}

// withConflictRetry runs fn up to maxConflictRetries+1 times, retrying only on
// errStaleWrite. When retries are exhausted the caller gets a Conflict.
func (s *CartService) withConflictRetry(ctx context.Context, sessionID string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, errStaleWrite) {
			return err
		}
		if attempt >= maxConflictRetries {
			return apperrors.Conflict("cart was modified concurrently, please retry")
		}
		s.logger.DebugContext(ctx, "retrying cart write after version conflict",
			slog.String("session_id", sessionID),
			slog.Int("attempt", attempt+1),
		)
	}
}

// getCart reads a cart and applies any pending schema migration to the
// in-memory copy. The migrated shape is persisted by the next versioned write.
func (s *CartService) getCart(ctx context.Context, sessionID string) (*domain.Cart, error) {
	cart, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if migrated, changed := cart.Migrate(); changed {
		s.logger.InfoContext(ctx, "migrated legacy cart on read",
			slog.String("session_id", sessionID),
			slog.Int("schema_version", migrated.SchemaVersion),
		)
		return &migrated, nil
	}
	return cart, nil
}

func (s *CartService) publishCartUpdated(ctx context.Context, cart *domain.Cart) {
	if err := s.producer.PublishCartUpdated(ctx, cart); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.updated event",
			slog.String("session_id", cart.SessionID),
			slog.String("error", err.Error()),
		)
	}
}

func indexOf(items []domain.CartItem, productID string) int {
	for i := range items {
		if items[i].ProductID == productID {
			return i
		}
	}
	return -1
}
