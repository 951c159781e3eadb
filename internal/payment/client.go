package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	apperrors "github.com/vitrine/cart-service/pkg/errors"
	"github.com/vitrine/cart-service/pkg/httpclient"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client is a Provider backed by a hosted-payment HTTP API. It is selected
// over the mock provider when PAYMENT_PROVIDER_URL is configured.
type Client struct {
	httpClient HTTPDoer
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a payment provider client for the given base URL.
func NewClient(httpClient HTTPDoer, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "http"
}

type createSessionRequest struct {
	Amount      float64        `json:"amount"`
	Currency    string         `json:"currency"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type createSessionResponse struct {
	ID          string `json:"id"`
	RedirectURL string `json:"redirect_url"`
	ExpiresAt   int64  `json:"expires_at"`
}

// CreateSession opens a hosted payment session with the provider. Transport
// failures and provider 5xx surface as ServiceUnavailable so the checkout
// endpoint answers 503 rather than 500.
func (c *Client) CreateSession(ctx context.Context, input *CreateSessionInput) (*Session, error) {
	body, err := json.Marshal(createSessionRequest{
		Amount:      input.Amount,
		Currency:    input.Currency,
		Description: input.Description,
		Metadata:    input.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payment session request: %w", err)
	}

	reqURL := c.baseURL + "/api/v1/payment-sessions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create payment session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(ctx, httpReq)
	if err != nil {
		c.logger.ErrorContext(ctx, "payment provider unreachable",
			slog.String("error", err.Error()),
		)
		return nil, apperrors.ServiceUnavailable("payment provider is unavailable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, apperrors.ServiceUnavailable("payment provider is unavailable")
		}
		return nil, httpclient.ParseResponseError(resp, "payment")
	}

	var envelope struct {
		Data createSessionResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode payment session response: %w", err)
	}
	if envelope.Data.ID == "" {
		return nil, fmt.Errorf("payment provider returned a session without an id")
	}

	return &Session{
		ID:          envelope.Data.ID,
		RedirectURL: envelope.Data.RedirectURL,
		ExpiresAt:   envelope.Data.ExpiresAt,
	}, nil
}
