package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vitrine/cart-service/internal/service"
	apperrors "github.com/vitrine/cart-service/pkg/errors"
	"github.com/vitrine/cart-service/pkg/httputil"
	"github.com/vitrine/cart-service/pkg/validator"
)

// CheckoutHandler handles checkout initiation and the provider webhook.
type CheckoutHandler struct {
	service    *service.CheckoutService
	webhookKey string
	logger     *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler. webhookKey may be
// empty, in which case webhook authentication is disabled (development only).
func NewCheckoutHandler(svc *service.CheckoutService, webhookKey string, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service:    svc,
		webhookKey: webhookKey,
		logger:     logger,
	}
}

// InitiateRequest is the JSON request body for starting a checkout.
type InitiateRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

// WebhookRequest is the provider's confirmation payload.
type WebhookRequest struct {
	PaymentSessionID string `json:"payment_session_id" validate:"required"`
	Status           string `json:"status" validate:"required"`
}

// Initiate handles POST /api/v1/checkout/initiate
func (h *CheckoutHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.service.InitiateCheckout(r.Context(), req.SessionID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: result})
}

// PaymentWebhook handles POST /api/v1/webhooks/payment.
//
// A confirmation for a payment session we have no correlation for is
// acknowledged with 202: the mapping may have expired or the event may be a
// duplicate, and telling the provider to retry forever helps nobody.
func (h *CheckoutHandler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookKey != "" {
		key := r.Header.Get("X-Webhook-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(h.webhookKey)) != 1 {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "UNAUTHORIZED", Message: "invalid webhook key"},
			})
			return
		}
	}

	var req WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.service.HandlePaymentConfirmation(r.Context(), req.PaymentSessionID, req.Status)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{
				Data: map[string]string{"status": "ignored"},
			})
			return
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}
