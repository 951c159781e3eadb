package product

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vitrine/cart-service/pkg/errors"
	"github.com/vitrine/cart-service/pkg/httpclient"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	hc := httpclient.New(httpclient.Config{MaxRetries: 0})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(hc, srv.URL, logger)
}

func TestCheckAvailability_InStock(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/products/prod-1/availability", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("quantity"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {"product_id": "prod-1", "available": true, "stock": 10}}`))
	})

	avail, err := client.CheckAvailability(context.Background(), "prod-1", 3)
	require.NoError(t, err)
	assert.Equal(t, 10, avail.Stock)
	assert.True(t, avail.Available)
}

func TestCheckAvailability_InsufficientStock(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {"product_id": "prod-1", "available": true, "stock": 2}}`))
	})

	avail, err := client.CheckAvailability(context.Background(), "prod-1", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Contains(t, err.Error(), "insufficient stock")
	// The stock position is still returned so callers can report it.
	require.NotNil(t, avail)
	assert.Equal(t, 2, avail.Stock)
}

func TestCheckAvailability_Unavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {"product_id": "prod-1", "available": false, "stock": 0}}`))
	})

	_, err := client.CheckAvailability(context.Background(), "prod-1", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCheckAvailability_ProductNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.CheckAvailability(context.Background(), "prod-missing", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCheckAvailability_ServiceDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused
	hc := httpclient.New(httpclient.Config{MaxRetries: 0})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := NewClient(hc, srv.URL, logger)

	_, err := client.CheckAvailability(context.Background(), "prod-1", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
}

func TestCheckAvailability_InvalidQuantity(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := client.CheckAvailability(context.Background(), "prod-1", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
