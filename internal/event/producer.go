package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vitrine/cart-service/internal/domain"
	pkgkafka "github.com/vitrine/cart-service/pkg/kafka"
)

// Kafka topic constants for cart domain events.
const (
	TopicCartUpdated       = "vitrine.cart.updated"
	TopicCartCleared       = "vitrine.cart.cleared"
	TopicCheckoutCompleted = "vitrine.cart.checkout.completed"
)

// Aggregate type constant.
const AggregateTypeCart = "cart"

// Source identifier for events originating from the cart service.
const SourceCartService = "cart-service"

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	SessionID string         `json:"session_id"`
	Items     []CartItemData `json:"items"`
	ItemCount int            `json:"item_count"`
	Subtotal  float64        `json:"subtotal"`
	Tax       float64        `json:"tax"`
	Total     float64        `json:"total"`
}

// CartItemData is the item payload within cart events.
type CartItemData struct {
	ProductID     string  `json:"product_id"`
	ProductName   string  `json:"product_name"`
	Quantity      int     `json:"quantity"`
	VatRate       float64 `json:"vat_rate"`
	UnitPriceTTC  float64 `json:"unit_price_ttc"`
	TotalPriceTTC float64 `json:"total_price_ttc"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	SessionID string `json:"session_id"`
}

// CheckoutCompletedData is the payload for a cart.checkout.completed event.
// OrderData carries the joined cart-plus-snapshot document handed to order
// processing.
type CheckoutCompletedData struct {
	SessionID        string          `json:"session_id"`
	PaymentSessionID string          `json:"payment_session_id"`
	OrderData        json.RawMessage `json:"order_data"`
}

// Producer publishes cart domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the cart service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishCartUpdated publishes a cart.updated event.
func (p *Producer) PublishCartUpdated(ctx context.Context, cart *domain.Cart) error {
	items := make([]CartItemData, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = CartItemData{
			ProductID:     item.ProductID,
			ProductName:   item.ProductName,
			Quantity:      item.Quantity,
			VatRate:       item.VatRate,
			UnitPriceTTC:  item.UnitPriceTTC,
			TotalPriceTTC: item.TotalPriceTTC,
		}
	}

	data := CartUpdatedData{
		SessionID: cart.SessionID,
		Items:     items,
		ItemCount: cart.ItemCount(),
		Subtotal:  cart.Subtotal,
		Tax:       cart.Tax,
		Total:     cart.Total,
	}

	event, err := pkgkafka.NewEvent(TopicCartUpdated, cart.SessionID, AggregateTypeCart, SourceCartService, data)
	if err != nil {
		return fmt.Errorf("create cart.updated event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicCartUpdated, event); err != nil {
		return fmt.Errorf("publish cart.updated event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("session_id", cart.SessionID),
		slog.Int("item_count", cart.ItemCount()),
	)

	return nil
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, sessionID string) error {
	data := CartClearedData{SessionID: sessionID}

	event, err := pkgkafka.NewEvent(TopicCartCleared, sessionID, AggregateTypeCart, SourceCartService, data)
	if err != nil {
		return fmt.Errorf("create cart.cleared event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicCartCleared, event); err != nil {
		return fmt.Errorf("publish cart.cleared event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cart.cleared event",
		slog.String("session_id", sessionID),
	)

	return nil
}

// PublishCheckoutCompleted publishes a cart.checkout.completed event with the
// assembled order data.
func (p *Producer) PublishCheckoutCompleted(ctx context.Context, sessionID, paymentSessionID string, orderData json.RawMessage) error {
	data := CheckoutCompletedData{
		SessionID:        sessionID,
		PaymentSessionID: paymentSessionID,
		OrderData:        orderData,
	}

	event, err := pkgkafka.NewEvent(TopicCheckoutCompleted, sessionID, AggregateTypeCart, SourceCartService, data)
	if err != nil {
		return fmt.Errorf("create cart.checkout.completed event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicCheckoutCompleted, event); err != nil {
		return fmt.Errorf("publish cart.checkout.completed event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cart.checkout.completed event",
		slog.String("session_id", sessionID),
		slog.String("payment_session_id", paymentSessionID),
	)

	return nil
}
