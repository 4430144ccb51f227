package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"storefront"`
	Version     string `env:"SERVICE_VERSION" envDefault:"dev"`
	Log         Log
	HTTP        HTTPServer

	// OTLPEndpoint enables trace export when set, e.g. "localhost:4317".
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	PostgresURL    string `env:"POSTGRES_URL"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"file://migrations"`

	// BaseURL is the public origin of the storefront, used to build the
	// gateway callback and the browser redirect targets.
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:3000"`
	ThankYouURL string `env:"THANK_YOU_URL" envDefault:"/thank-you"`
	FailureURL  string `env:"FAILURE_URL" envDefault:"/payment-failed"`

	Paystack    Paystack    `envPrefix:"PAYSTACK_"`
	Notify      Notify      `envPrefix:"NOTIFY_"`
	Fulfillment Fulfillment `envPrefix:"FULFILLMENT_"`
	Kafka       Kafka       `envPrefix:"KAFKA_"`
	RateLimit   RateLimit   `envPrefix:"RATE_LIMIT_"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"PORT" envDefault:"8080"`
}

type Paystack struct {
	BaseURL         string        `env:"BASE_URL" envDefault:"https://api.paystack.co"`
	SecretKey       string        `env:"SECRET_KEY"`
	Currency        string        `env:"CURRENCY" envDefault:"GHS"`
	MinAmountMinor  int64         `env:"MIN_AMOUNT_MINOR" envDefault:"50"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"20s"`
	PlaceholderMail string        `env:"PLACEHOLDER_EMAIL" envDefault:"customer@example.com"`
}

type Notify struct {
	// Provider selects the sender: "relay" posts to the mail relay service,
	// "resend" uses the Resend API.
	Provider      string `env:"PROVIDER" envDefault:"relay"`
	RelayURL      string `env:"RELAY_URL" envDefault:"http://localhost:8084"`
	ResendAPIKey  string `env:"RESEND_API_KEY"`
	From          string `env:"FROM" envDefault:"Store <onboarding@resend.dev>"`
	OperatorEmail string `env:"OPERATOR_EMAIL" envDefault:"orders@example.com"`
}

type Fulfillment struct {
	VerifyTimeout    time.Duration `env:"VERIFY_TIMEOUT" envDefault:"15s"`
	NotifyTimeout    time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`
	InventoryWorkers int           `env:"INVENTORY_WORKERS" envDefault:"8"`
}

type Kafka struct {
	Brokers      []string      `env:"BROKERS" envSeparator:","`
	Topic        string        `env:"CHARGE_TOPIC" envDefault:"paystack.charge.success"`
	GroupID      string        `env:"GROUP_ID" envDefault:"fulfillment-worker"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	RetryBackoff time.Duration `env:"RETRY_BACKOFF" envDefault:"2s"`
}

type RateLimit struct {
	RPS   float64 `env:"RPS" envDefault:"2"`
	Burst int     `env:"BURST" envDefault:"5"`
}

// Load reads an optional .env file and parses the process environment.
func Load() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	return Parse(env.Options{})
}

// Parse builds a Config using the given options; tests pass a fixed
// Environment map instead of the process environment.
func Parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return c.HTTP.Host + ":" + c.HTTP.Port
}

// CallbackURL is where the gateway sends the customer's browser after payment.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/paystack/callback"
}

// ResolveURL makes a redirect target absolute against BaseURL unless it
// already is.
func (c *Config) ResolveURL(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(target, "/")
}

// Validate checks the settings the storefront cannot run without.
func (c *Config) Validate() error {
	if c.PostgresURL == "" {
		return fmt.Errorf("POSTGRES_URL is required")
	}
	if c.Paystack.SecretKey == "" {
		return fmt.Errorf("PAYSTACK_SECRET_KEY is required")
	}
	if c.Notify.Provider == "resend" && c.Notify.ResendAPIKey == "" {
		return fmt.Errorf("NOTIFY_RESEND_API_KEY is required when NOTIFY_PROVIDER=resend")
	}
	return nil
}

func (l Log) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
