// Package config содержит логику чтения конфигурации сервиса отчётов.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса отчётов.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	BaseURL     string `env:"BASE_URL"`

	// Выбор платёжного провайдера: stripe, paypal или simulated.
	PaymentProvider     string `env:"PAYMENT_PROVIDER" envDefault:"simulated"`
	StripeAPIKey        string `env:"STRIPE_API_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	PayPalBaseURL       string `env:"PAYPAL_BASE_URL" envDefault:"https://api-m.sandbox.paypal.com"`
	PayPalClientID      string `env:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret  string `env:"PAYPAL_CLIENT_SECRET"`
	PayPalWebhookID     string `env:"PAYPAL_WEBHOOK_ID"`

	SimulatedWebhookSecret string `env:"SIMULATED_WEBHOOK_SECRET" envDefault:"simulated-secret"`

	VINDecoderAddress      string `env:"VIN_DECODER_ADDRESS" envDefault:"https://vpic.nhtsa.dot.gov/api"`
	HistoryRegistryAddress string `env:"HISTORY_REGISTRY_ADDRESS"`
	DocumentsDir           string `env:"DOCUMENTS_DIR" envDefault:"./documents"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	AdminToken string `env:"ADMIN_TOKEN"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envBaseURL := cfg.BaseURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BaseURL, "b", "", "public base URL for checkout redirects and report links")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envBaseURL != "" {
		cfg.BaseURL = envBaseURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://" + cfg.RunAddress
	}

	return cfg, nil
}
