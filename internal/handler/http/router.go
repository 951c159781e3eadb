package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitrine/cart-service/internal/service"
	"github.com/vitrine/cart-service/pkg/health"
	"github.com/vitrine/cart-service/pkg/middleware"
)

// NewRouter creates a chi router with all cart service routes registered.
func NewRouter(
	cartService *service.CartService,
	checkoutService *service.CheckoutService,
	webhookKey string,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("cart"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	cartHandler := NewCartHandler(cartService, logger)
	checkoutHandler := NewCheckoutHandler(checkoutService, webhookKey, logger)

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Get("/", cartHandler.GetCart)
		r.Delete("/", cartHandler.ClearCart)

		r.Post("/items", cartHandler.AddItem)
		r.Put("/items/{productId}", cartHandler.UpdateItemQuantity)
		r.Delete("/items/{productId}", cartHandler.RemoveItem)

		r.Post("/checkout-snapshot/{sessionId}", cartHandler.AttachSnapshot)
		r.Get("/checkout-snapshot/{sessionId}", cartHandler.GetSnapshot)
		r.Delete("/checkout-snapshot/{sessionId}", cartHandler.DeleteSnapshot)

		r.Get("/checkout-data/{sessionId}", cartHandler.GetCheckoutData)
		r.Post("/prepare-order-data/{sessionId}", cartHandler.PrepareOrderData)

		r.Post("/resolve-session", cartHandler.ResolveSession)
		r.Get("/stats", cartHandler.Stats)
	})

	r.Route("/api/v1/checkout", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Post("/initiate", checkoutHandler.Initiate)
	})

	r.Post("/api/v1/webhooks/payment", checkoutHandler.PaymentWebhook)

	return r
}
