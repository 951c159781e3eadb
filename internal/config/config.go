package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/vitrine/cart-service/pkg/config"
)

// Config holds all configuration for the cart service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"CART_HTTP_PORT" envDefault:"8003"`

	// Redis
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Cart lifetime in seconds. Every read and write slides the window,
	// so this is inactivity before abandonment, not absolute lifetime.
	CartTTLSeconds int `env:"CART_TTL_SECONDS" envDefault:"86400"`

	// Checkout snapshot lifetime in seconds. Kept in step with the cart
	// window so a cart never outlives its checkout data.
	SnapshotTTLSeconds int `env:"CHECKOUT_SNAPSHOT_TTL_SECONDS" envDefault:"86400"`

	// Product service, used for stock validation on add-to-cart.
	ProductServiceURL string `env:"PRODUCT_SERVICE_URL" envDefault:"http://localhost:8001"`

	// Payment provider
	PaymentProviderURL string `env:"PAYMENT_PROVIDER_URL" envDefault:""`
	PaymentWebhookKey  string `env:"PAYMENT_WEBHOOK_KEY" envDefault:""`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load cart config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CartTTL returns the cart inactivity window as a duration.
func (c *Config) CartTTL() time.Duration {
	return time.Duration(c.CartTTLSeconds) * time.Second
}

// SnapshotTTL returns the checkout snapshot window as a duration.
func (c *Config) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLSeconds) * time.Second
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.CartTTLSeconds < 1 {
		return fmt.Errorf("CART_TTL_SECONDS must be positive, got %d", c.CartTTLSeconds)
	}
	if c.SnapshotTTLSeconds < 1 {
		return fmt.Errorf("CHECKOUT_SNAPSHOT_TTL_SECONDS must be positive, got %d", c.SnapshotTTLSeconds)
	}
	if c.ProductServiceURL == "" {
		return fmt.Errorf("PRODUCT_SERVICE_URL is required")
	}
	return nil
}
