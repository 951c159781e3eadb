package domain

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/vitrine/cart-service/pkg/errors"
)

// CartItem represents a single line in the cart. It snapshots the product at
// the moment it was added (name, description, image) rather than referencing
// live catalog data, and stores the derived HT/TTC figures pre-computed.
// CartItem values are immutable; every change returns a new value.
type CartItem struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	ProductName   string    `json:"product_name"`
	Description   string    `json:"description,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	Quantity      int       `json:"quantity"`
	VatRate       float64   `json:"vat_rate"`
	UnitPriceHT   float64   `json:"unit_price_ht"`
	UnitPriceTTC  float64   `json:"unit_price_ttc"`
	TotalPriceHT  float64   `json:"total_price_ht"`
	TotalPriceTTC float64   `json:"total_price_ttc"`
	AddedAt       time.Time `json:"added_at"`
}

// NewCartItemInput holds the raw fields for constructing a cart item.
type NewCartItemInput struct {
	ProductID    string
	ProductName  string
	Description  string
	ImageURL     string
	Quantity     int
	VatRate      float64
	UnitPriceTTC float64
}

// NewCartItem constructs a cart item from raw fields, deriving the HT unit
// price and the line totals.
func NewCartItem(input NewCartItemInput, now time.Time) (CartItem, error) {
	if input.ProductID == "" {
		return CartItem{}, apperrors.InvalidInput("product id is required")
	}
	if input.ProductName == "" {
		return CartItem{}, apperrors.InvalidInput("product name is required")
	}
	if input.Quantity <= 0 {
		return CartItem{}, apperrors.InvalidInput("quantity must be greater than 0")
	}
	if input.UnitPriceTTC < 0 {
		return CartItem{}, apperrors.InvalidInput("unit price must not be negative")
	}
	if input.VatRate < 0 || input.VatRate > 100 {
		return CartItem{}, apperrors.InvalidInput("vat rate must be between 0 and 100")
	}

	item := CartItem{
		ID:           uuid.New().String(),
		ProductID:    input.ProductID,
		ProductName:  input.ProductName,
		Description:  input.Description,
		ImageURL:     input.ImageURL,
		Quantity:     input.Quantity,
		VatRate:      input.VatRate,
		UnitPriceTTC: input.UnitPriceTTC,
		AddedAt:      now.UTC(),
	}
	item.computeTotals()

	return item, nil
}

// UpdateQuantity returns a copy of the item with the new quantity and all
// totals recomputed. A quantity of zero or less is rejected; callers that want
// removal must remove the item from the cart instead.
func (i CartItem) UpdateQuantity(newQty int) (CartItem, error) {
	if newQty <= 0 {
		return CartItem{}, apperrors.InvalidInput("quantity must be greater than 0")
	}

	updated := i
	updated.Quantity = newQty
	updated.computeTotals()

	return updated, nil
}

// Valid reports whether the item satisfies its invariants.
func (i CartItem) Valid() bool {
	return i.ProductID != "" &&
		i.ProductName != "" &&
		i.Quantity > 0 &&
		i.VatRate >= 0 && i.VatRate <= 100 &&
		i.UnitPriceTTC >= 0
}

// computeTotals derives unit_price_ht and the line totals from the TTC unit
// price, the VAT rate, and the quantity.
func (i *CartItem) computeTotals() {
	unitTTC := dec(i.UnitPriceTTC)
	unitHT := priceExclTax(unitTTC, i.VatRate)
	qty := dec(float64(i.Quantity))

	i.UnitPriceHT = roundLine(unitHT)
	i.TotalPriceHT = roundLine(unitHT.Mul(qty))
	i.TotalPriceTTC = roundLine(unitTTC.Mul(qty))
}
