package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitrine/cart-service/internal/config"
	"github.com/vitrine/cart-service/internal/event"
	handler "github.com/vitrine/cart-service/internal/handler/http"
	"github.com/vitrine/cart-service/internal/payment"
	"github.com/vitrine/cart-service/internal/payment/mock"
	"github.com/vitrine/cart-service/internal/product"
	redisrepo "github.com/vitrine/cart-service/internal/repository/redis"
	"github.com/vitrine/cart-service/internal/service"
	"github.com/vitrine/cart-service/pkg/health"
	"github.com/vitrine/cart-service/pkg/httpclient"
	pkgkafka "github.com/vitrine/cart-service/pkg/kafka"
)

// App wires together all dependencies and runs the cart service.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	rdb        *redis.Client
	producer   *pkgkafka.Producer
	httpServer *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize Redis client.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis",
		slog.String("addr", cfg.RedisAddr),
		slog.Int("db", cfg.RedisDB),
	)

	// Initialize Kafka producer.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Stores.
	carts := redisrepo.NewCartRepository(rdb, cfg.CartTTL(), logger)
	snapshots := redisrepo.NewSnapshotRepository(rdb, cfg.SnapshotTTL())
	// Correlations live as long as carts do: a payment confirmation that
	// arrives after the cart expired has nothing to complete anyway.
	correlations := redisrepo.NewCorrelationRepository(rdb, cfg.CartTTL())

	// Product service client behind a circuit breaker.
	baseClient := httpclient.New(httpclient.DefaultConfig())
	cbClient := httpclient.NewCircuitBreakerClient(baseClient, httpclient.DefaultCircuitBreakerConfig("product"), logger)
	stock := product.NewClient(cbClient, cfg.ProductServiceURL, logger)

	// Payment provider. A configured URL selects the HTTP integration; the
	// mock stands in otherwise, with an identical correlation flow.
	var provider payment.Provider
	if cfg.PaymentProviderURL != "" {
		paymentCB := httpclient.NewCircuitBreakerClient(baseClient, httpclient.DefaultCircuitBreakerConfig("payment"), logger)
		provider = payment.NewClient(paymentCB, cfg.PaymentProviderURL, logger)
	} else {
		provider = mock.NewProvider()
	}
	logger.Info("payment provider selected", slog.String("provider", provider.Name()))

	// Services.
	eventProducer := event.NewProducer(producer, logger)
	cartService := service.NewCartService(carts, snapshots, stock, eventProducer, logger, cfg.CartTTL())
	checkoutService := service.NewCheckoutService(cartService, carts, snapshots, correlations, provider, eventProducer, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthHandler.Register("kafka", func(ctx context.Context) error {
		return pkgkafka.PingBrokers(ctx, cfg.KafkaBrokers)
	})

	// HTTP router.
	router := handler.NewRouter(cartService, checkoutService, cfg.PaymentWebhookKey, healthHandler, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		rdb:        rdb,
		producer:   producer,
		httpServer: httpServer,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	// Graceful HTTP server shutdown with a 10-second deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	// Close Kafka producer.
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
	}

	// Close Redis client.
	if err := a.rdb.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}
