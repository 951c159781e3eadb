package payment

import (
	"context"
)

// CreateSessionInput holds the parameters for opening a hosted payment
// session with the provider.
type CreateSessionInput struct {
	Amount      float64
	Currency    string
	Description string
	Metadata    map[string]any
}

// Session is the provider's handle for a payment in flight. The ID is the
// provider-side identifier that later comes back on the webhook; it is the
// only key the provider knows us by.
type Session struct {
	ID          string
	RedirectURL string
	ExpiresAt   int64
}

// Provider defines the interface for payment provider integrations.
type Provider interface {
	// Name returns the provider name (e.g., "mock", "stripe").
	Name() string

	// CreateSession opens a hosted payment session for the given amount.
	CreateSession(ctx context.Context, input *CreateSessionInput) (*Session, error)
}
