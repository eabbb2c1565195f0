package config

import (
	"fmt"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	JWTSecret    string `env:"JWT_SECRET,required"`
	JWTExpiryMin int    `env:"JWT_EXPIRY_MIN" envDefault:"1440"`

	// Tokens debited when a non-draft invoice is created.
	InvoiceFeeTokens int64 `env:"INVOICE_FEE_TOKENS" envDefault:"10"`

	// Tokens credited per one unit of the canonical currency (EUR).
	TokensPerUnit int64 `env:"TOKENS_PER_UNIT" envDefault:"100"`

	// TTL of the read-only balance cache used by display endpoints.
	BalanceCacheTTLS int `env:"BALANCE_CACHE_TTL_S" envDefault:"30"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
	CheckoutSuccessURL  string `env:"CHECKOUT_SUCCESS_URL" envDefault:"http://localhost:8080/billing/success"`
	CheckoutCancelURL   string `env:"CHECKOUT_CANCEL_URL" envDefault:"http://localhost:8080/billing/cancel"`

	ProviderXBaseURL     string `env:"PROVIDERX_BASE_URL" envDefault:"http://mock-provider:8081"`
	ProviderXCallbackURL string `env:"PROVIDERX_CALLBACK_URL" envDefault:"http://app:8080/api/v1/webhooks/providerx"`
	ProviderXSecret      string `env:"PROVIDERX_SECRET,required"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}
