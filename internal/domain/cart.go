package domain

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/vitrine/cart-service/pkg/errors"
)

// SchemaVersion is the current persisted cart layout version. Carts stored by
// earlier deployments lack the vat_breakdown field; they are migrated once on
// read (see Migrate).
const SchemaVersion = 2

// VatBreakdownEntry is the aggregated tax amount for one VAT rate present in
// the cart. Entries are sorted ascending by rate.
type VatBreakdownEntry struct {
	Rate   float64 `json:"rate"`
	Amount float64 `json:"amount"`
}

// Cart is the in-progress cart aggregate for one shopper session. It is an
// immutable value: every mutation returns a new Cart with all monetary
// aggregates recomputed from scratch (cart sizes are small, correctness over
// performance).
type Cart struct {
	ID            string              `json:"id"`
	SessionID     string              `json:"session_id"`
	Items         []CartItem          `json:"items"`
	Subtotal      float64             `json:"subtotal"`
	Tax           float64             `json:"tax"`
	Total         float64             `json:"total"`
	VatBreakdown  []VatBreakdownEntry `json:"vat_breakdown"`
	CheckoutData  json.RawMessage     `json:"checkout_data,omitempty"`
	Version       int                 `json:"version"`
	SchemaVersion int                 `json:"schema_version"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	ExpiresAt     time.Time           `json:"expires_at"`
}

// NewCart creates an empty cart for the given session.
func NewCart(sessionID string, now time.Time, ttl time.Duration) Cart {
	now = now.UTC()
	return Cart{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		Items:         []CartItem{},
		VatBreakdown:  []VatBreakdownEntry{},
		SchemaVersion: SchemaVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
}

// AddItem returns a new cart with the item added. If a line with the same
// product id already exists, the quantities are merged into a single line
// instead of duplicating it; the merged line keeps its position and identity.
func (c Cart) AddItem(item CartItem, now time.Time) (Cart, error) {
	next := c.copyWith(now)

	for idx, existing := range next.Items {
		if existing.ProductID == item.ProductID {
			merged, err := existing.UpdateQuantity(existing.Quantity + item.Quantity)
			if err != nil {
				return Cart{}, err
			}
			next.Items[idx] = merged
			next.recompute()
			return next, nil
		}
	}

	next.Items = append(next.Items, item)
	next.recompute()
	return next, nil
}

// RemoveItem returns a new cart without the line for the given product id.
func (c Cart) RemoveItem(productID string, now time.Time) (Cart, error) {
	idx := c.findItem(productID)
	if idx < 0 {
		return Cart{}, apperrors.NotFound("cart item", productID)
	}

	next := c.copyWith(now)
	next.Items = append(next.Items[:idx], next.Items[idx+1:]...)
	next.recompute()
	return next, nil
}

// UpdateItemQuantity returns a new cart with the line's quantity replaced.
// A quantity of zero or less removes the line.
func (c Cart) UpdateItemQuantity(productID string, quantity int, now time.Time) (Cart, error) {
	if quantity <= 0 {
		return c.RemoveItem(productID, now)
	}

	idx := c.findItem(productID)
	if idx < 0 {
		return Cart{}, apperrors.NotFound("cart item", productID)
	}

	updated, err := c.Items[idx].UpdateQuantity(quantity)
	if err != nil {
		return Cart{}, err
	}

	next := c.copyWith(now)
	next.Items[idx] = updated
	next.recompute()
	return next, nil
}

// Clear returns a new cart with no items and zeroed totals. Checkout data is
// preserved: clearing the lines does not discard the shopper's address entry.
func (c Cart) Clear(now time.Time) Cart {
	next := c.copyWith(now)
	next.Items = []CartItem{}
	next.recompute()
	return next
}

// UpdateCheckoutData returns a new cart with the checkout payload replaced.
// Items and totals are untouched.
func (c Cart) UpdateCheckoutData(data json.RawMessage, now time.Time) Cart {
	next := c.copyWith(now)
	next.CheckoutData = data
	return next
}

// ClearCheckoutData returns a new cart with the checkout payload removed.
func (c Cart) ClearCheckoutData(now time.Time) Cart {
	next := c.copyWith(now)
	next.CheckoutData = nil
	return next
}

// Renew returns a copy of the cart with the expiry pushed out to now+ttl.
// Expiry is sliding: every persisted write goes through Renew.
func (c Cart) Renew(now time.Time, ttl time.Duration) Cart {
	next := c
	next.Items = copyItems(c.Items)
	next.VatBreakdown = copyBreakdown(c.VatBreakdown)
	next.ExpiresAt = now.UTC().Add(ttl)
	return next
}

// Valid reports whether the cart satisfies its invariants: non-empty identity,
// individually valid items, and a non-negative total.
func (c Cart) Valid() bool {
	if c.ID == "" || c.SessionID == "" {
		return false
	}
	for _, item := range c.Items {
		if !item.Valid() {
			return false
		}
	}
	return c.Total >= 0
}

// ItemCount returns the total number of units across all lines.
func (c Cart) ItemCount() int {
	var count int
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// Migrate upgrades a cart read from storage to the current schema. Legacy
// carts (schema_version < 2) were persisted without the vat_breakdown field;
// the breakdown is recomputed once here and the bumped schema version is
// persisted on the cart's next write. Returns the migrated cart and whether a
// migration happened.
func (c Cart) Migrate() (Cart, bool) {
	if c.SchemaVersion >= SchemaVersion {
		return c, false
	}

	next := c
	next.Items = copyItems(c.Items)
	next.recompute()
	next.SchemaVersion = SchemaVersion
	return next, true
}

func (c Cart) findItem(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// copyWith returns a deep-enough copy of the cart (items and breakdown slices
// are duplicated so the receiver stays untouched) stamped with updated_at=now.
func (c Cart) copyWith(now time.Time) Cart {
	next := c
	next.Items = copyItems(c.Items)
	next.VatBreakdown = copyBreakdown(c.VatBreakdown)
	next.UpdatedAt = now.UTC()
	return next
}

// copyItems duplicates a line slice, always returning a non-nil slice so an
// empty cart serializes as [] rather than null.
func copyItems(items []CartItem) []CartItem {
	out := make([]CartItem, len(items))
	copy(out, items)
	return out
}

func copyBreakdown(entries []VatBreakdownEntry) []VatBreakdownEntry {
	out := make([]VatBreakdownEntry, len(entries))
	copy(out, entries)
	return out
}

// recompute rebuilds subtotal, tax, total, and the VAT breakdown from the
// lines. Aggregates are summed at full line precision and rounded to 2
// decimals only here, at the aggregation point.
func (c *Cart) recompute() {
	subtotal := decimal.Zero
	total := decimal.Zero
	perRate := make(map[float64]decimal.Decimal)

	for _, item := range c.Items {
		ht := dec(item.TotalPriceHT)
		ttc := dec(item.TotalPriceTTC)
		subtotal = subtotal.Add(ht)
		total = total.Add(ttc)
		perRate[item.VatRate] = perRate[item.VatRate].Add(ttc.Sub(ht))
	}

	c.Subtotal = round2(subtotal)
	c.Total = round2(total)
	c.Tax = round2(total.Sub(subtotal))

	breakdown := make([]VatBreakdownEntry, 0, len(perRate))
	for rate, amount := range perRate {
		breakdown = append(breakdown, VatBreakdownEntry{Rate: rate, Amount: round2(amount)})
	}
	sort.Slice(breakdown, func(i, j int) bool { return breakdown[i].Rate < breakdown[j].Rate })
	c.VatBreakdown = breakdown
}
