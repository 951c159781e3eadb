package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vitrine/cart-service/internal/event"
	"github.com/vitrine/cart-service/internal/payment"
	"github.com/vitrine/cart-service/internal/repository"
	apperrors "github.com/vitrine/cart-service/pkg/errors"
)

// Payment confirmation statuses accepted on the provider webhook.
const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusCanceled  = "canceled"
)

// InitiateCheckoutResult is returned to the storefront after a payment
// session has been opened with the provider.
type InitiateCheckoutResult struct {
	PaymentSessionID string    `json:"payment_session_id"`
	RedirectURL      string    `json:"redirect_url"`
	Amount           float64   `json:"amount"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// ConfirmationResult reports what the webhook processing did.
type ConfirmationResult struct {
	SessionID string     `json:"session_id"`
	Completed bool       `json:"completed"`
	OrderData *OrderData `json:"order_data,omitempty"`
}

// CheckoutService orchestrates the payment handoff: it opens provider
// sessions, records the payment-session correlation, and completes or unwinds
// the cart when the asynchronous confirmation arrives.
type CheckoutService struct {
	carts        *CartService
	cartRepo     repository.CartRepository
	snapshots    repository.SnapshotRepository
	correlations repository.CorrelationRepository
	provider     payment.Provider
	producer     *event.Producer
	logger       *slog.Logger
}

// NewCheckoutService creates a new checkout service.
func NewCheckoutService(
	carts *CartService,
	cartRepo repository.CartRepository,
	snapshots repository.SnapshotRepository,
	correlations repository.CorrelationRepository,
	provider payment.Provider,
	producer *event.Producer,
	logger *slog.Logger,
) *CheckoutService {
	return &CheckoutService{
		carts:        carts,
		cartRepo:     cartRepo,
		snapshots:    snapshots,
		correlations: correlations,
		provider:     provider,
		producer:     producer,
		logger:       logger,
	}
}

// InitiateCheckout opens a payment session for the cart and records the
// correlation so the webhook can find its way back. The cart must have items
// and a checkout snapshot must already be attached.
func (s *CheckoutService) InitiateCheckout(ctx context.Context, sessionID string) (*InitiateCheckoutResult, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}

	data, err := s.carts.GetCheckoutData(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(data.Cart.Items) == 0 {
		return nil, apperrors.InvalidInput("cart has no items to check out")
	}
	if len(data.Snapshot) == 0 {
		return nil, apperrors.InvalidInput("checkout snapshot must be attached before initiating payment")
	}

	session, err := s.provider.CreateSession(ctx, &payment.CreateSessionInput{
		Amount:      data.Cart.Total,
		Currency:    "EUR",
		Description: fmt.Sprintf("cart %s", data.Cart.ID),
		Metadata:    map[string]any{"session_id": sessionID},
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "payment provider rejected session creation",
			slog.String("session_id", sessionID),
			slog.String("provider", s.provider.Name()),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.ServiceUnavailable("payment provider is unavailable")
	}

	if err := s.correlations.Record(ctx, session.ID, sessionID); err != nil {
		return nil, fmt.Errorf("record payment session correlation: %w", err)
	}

	s.logger.InfoContext(ctx, "checkout initiated",
		slog.String("session_id", sessionID),
		slog.String("payment_session_id", session.ID),
		slog.Float64("amount", data.Cart.Total),
	)

	return &InitiateCheckoutResult{
		PaymentSessionID: session.ID,
		RedirectURL:      session.RedirectURL,
		Amount:           data.Cart.Total,
		ExpiresAt:        time.Unix(session.ExpiresAt, 0).UTC(),
	}, nil
}

// HandlePaymentConfirmation processes the provider's asynchronous
// confirmation. On success it assembles the order data, publishes the
// completion event, and tears down the cart, snapshot, and correlation.
// A confirmation for an unknown payment session is logged and reported via
// ErrNotFound; the provider retries or gives up, nothing crashes.
func (s *CheckoutService) HandlePaymentConfirmation(ctx context.Context, paymentSessionID, status string) (*ConfirmationResult, error) {
	if paymentSessionID == "" {
		return nil, apperrors.InvalidInput("payment session id is required")
	}

	sessionID, err := s.correlations.Resolve(ctx, paymentSessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.WarnContext(ctx, "confirmation for unknown payment session",
				slog.String("payment_session_id", paymentSessionID),
				slog.String("status", status),
			)
		}
		return nil, fmt.Errorf("resolve payment session: %w", err)
	}

	if status != PaymentStatusSucceeded {
		// Failed or canceled payment: drop the correlation, keep the cart so
		// the shopper can try again.
		if err := s.correlations.Delete(ctx, paymentSessionID); err != nil {
			s.logger.ErrorContext(ctx, "failed to delete correlation after unsuccessful payment",
				slog.String("payment_session_id", paymentSessionID),
				slog.String("error", err.Error()),
			)
		}
		s.logger.InfoContext(ctx, "payment not completed",
			slog.String("session_id", sessionID),
			slog.String("payment_session_id", paymentSessionID),
			slog.String("status", status),
		)
		return &ConfirmationResult{SessionID: sessionID, Completed: false}, nil
	}

	order, err := s.carts.PrepareOrderData(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("prepare order data: %w", err)
	}

	orderJSON, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order data: %w", err)
	}

	if err := s.producer.PublishCheckoutCompleted(ctx, sessionID, paymentSessionID, orderJSON); err != nil {
		// The event is the handoff to order processing; without it the order
		// is lost, so this failure is fatal and the provider will redeliver.
		return nil, fmt.Errorf("publish checkout completed: %w", err)
	}

	s.teardown(ctx, sessionID, paymentSessionID)

	s.logger.InfoContext(ctx, "checkout completed",
		slog.String("session_id", sessionID),
		slog.String("payment_session_id", paymentSessionID),
		slog.Float64("total", order.Total),
	)

	return &ConfirmationResult{SessionID: sessionID, Completed: true, OrderData: order}, nil
}

// teardown removes the cart, snapshot, and correlation after a completed
// checkout. Failures are logged only: the keys all expire on their own, and
// the completion event has already been published.
func (s *CheckoutService) teardown(ctx context.Context, sessionID, paymentSessionID string) {
	if err := s.cartRepo.Delete(ctx, sessionID); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete cart after checkout",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.snapshots.Delete(ctx, sessionID); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete snapshot after checkout",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.correlations.Delete(ctx, paymentSessionID); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete correlation after checkout",
			slog.String("payment_session_id", paymentSessionID),
			slog.String("error", err.Error()),
		)
	}
}
