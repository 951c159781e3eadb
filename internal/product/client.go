package product

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	apperrors "github.com/vitrine/cart-service/pkg/errors"
	"github.com/vitrine/cart-service/pkg/httpclient"
)

// Availability is the stock position reported by the product service for a
// single product.
type Availability struct {
	ProductID string `json:"product_id"`
	Available bool   `json:"available"`
	Stock     int    `json:"stock"`
}

// Checker validates that a requested quantity of a product can be fulfilled.
type Checker interface {
	CheckAvailability(ctx context.Context, productID string, quantity int) (*Availability, error)
}

// HTTPDoer is the interface for executing HTTP requests.
// Both httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client queries the product service over HTTP.
type Client struct {
	httpClient HTTPDoer
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a product service client.
func NewClient(httpClient HTTPDoer, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// CheckAvailability asks the product service whether quantity units of the
// product are in stock. An insufficient-stock answer is an InvalidInput error
// so the shopper sees a 400 with the actual stock level; transport and
// downstream failures surface as ServiceUnavailable.
func (c *Client) CheckAvailability(ctx context.Context, productID string, quantity int) (*Availability, error) {
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}
	if quantity <= 0 {
		return nil, apperrors.InvalidInput("quantity must be greater than 0")
	}

	reqURL := fmt.Sprintf("%s/api/v1/products/%s/availability?quantity=%s",
		c.baseURL, url.PathEscape(productID), strconv.Itoa(quantity))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create availability request: %w", err)
	}

	resp, err := c.httpClient.Do(ctx, httpReq)
	if err != nil {
		c.logger.ErrorContext(ctx, "product service unreachable",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.ServiceUnavailable("product service is unavailable")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.NotFound("product", productID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, "product")
	}

	var envelope struct {
		Data Availability `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode availability response: %w", err)
	}

	avail := envelope.Data
	if !avail.Available || avail.Stock < quantity {
		return &avail, apperrors.InvalidInput(
			fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", productID, quantity, avail.Stock))
	}

	return &avail, nil
}
