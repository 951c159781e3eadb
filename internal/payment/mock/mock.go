package mock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vitrine/cart-service/internal/payment"
)

// Provider is a mock payment provider that always opens a session.
// It is intended for development and testing purposes.
type Provider struct{}

// NewProvider creates a new mock payment provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "mock"
}

// CreateSession simulates opening a hosted payment session.
func (p *Provider) CreateSession(_ context.Context, _ *payment.CreateSessionInput) (*payment.Session, error) {
	id := "mock_ps_" + uuid.New().String()
	return &payment.Session{
		ID:          id,
		RedirectURL: "https://pay.example.com/session/" + id,
		ExpiresAt:   time.Now().UTC().Add(30 * time.Minute).Unix(),
	}, nil
}
