package config

import (
	"os"
	"strconv"
	"time"

	"culturepass/security"
)

type Config struct {
	// Server configuration
	Port          string
	Environment   string
	PublicBaseURL string

	// Redis configuration
	RedisURL         string
	RateLimitBackend string // memory or redis

	// PubNub configuration
	PubNubPublishKey     string
	PubNubSubscribeKey   string
	PubNubSecretKey      string
	PubNubUserID         string
	PaymentNotifyChannel string

	// Payment configuration
	PaymentProvider     string // stripe or simulated
	StripeSecretKey     string
	StripeWebhookSecret string
	SimulatedSigningKey string
	DefaultCurrency     string
	GatewayTimeout      time.Duration

	// Ticket lifecycle
	PendingTicketTTL  time.Duration
	ReconcileInterval time.Duration
	WebhookReplayTTL  time.Duration
	EventTimezone     string

	// Rate limits
	CheckoutLimit security.Rule
	ScanLimit     security.Rule
	RefundLimit   security.Rule
	CPIDLimit     security.Rule
	GlobalLimit   security.Rule

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:          getEnv("PORT", "8090"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8090"),

		// Redis
		RedisURL:         getEnv("REDIS_URL", "localhost:6379"),
		RateLimitBackend: getEnv("RATE_LIMIT_BACKEND", "memory"),

		// PubNub
		PubNubPublishKey:     getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey:   getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:      getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:         getEnv("PUBNUB_USER_ID", "culturepass-server"),
		PaymentNotifyChannel: getEnv("PAYMENT_NOTIFY_CHANNEL", "payment-notifications"),

		// Payment
		PaymentProvider:     getEnv("PAYMENT_PROVIDER", "simulated"),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		SimulatedSigningKey: getEnv("SIMULATED_SIGNING_KEY", "dev-signing-key"),
		DefaultCurrency:     getEnv("DEFAULT_CURRENCY", "AUD"),
		GatewayTimeout:      getEnvAsDuration("GATEWAY_TIMEOUT", "10s"),

		// Ticket lifecycle
		PendingTicketTTL:  getEnvAsDuration("PENDING_TICKET_TTL", "30m"),
		ReconcileInterval: getEnvAsDuration("RECONCILE_INTERVAL", "1m"),
		WebhookReplayTTL:  getEnvAsDuration("WEBHOOK_REPLAY_TTL", "24h"),
		EventTimezone:     getEnv("EVENT_TIMEZONE", "Australia/Sydney"),

		// Rate limits
		CheckoutLimit: getRule("CHECKOUT", 5, "1m"),
		ScanLimit:     getRule("SCAN", 60, "1m"),
		RefundLimit:   getRule("REFUND", 5, "1m"),
		CPIDLimit:     getRule("CPID", 3, "2m"),
		GlobalLimit:   getRule("GLOBAL", 100, "1m"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

// RateRules maps each guarded action to its quota.
func (c *Config) RateRules() map[string]security.Rule {
	return map[string]security.Rule{
		security.ActionCheckout: c.CheckoutLimit,
		security.ActionScan:     c.ScanLimit,
		security.ActionRefund:   c.RefundLimit,
		security.ActionIssue:    c.CPIDLimit,
		security.ActionGlobal:   c.GlobalLimit,
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Location resolves EventTimezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.EventTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getRule(prefix string, limit int, window string) security.Rule {
	return security.Rule{
		Limit:  getEnvAsInt(prefix+"_RATE_LIMIT", limit),
		Window: getEnvAsDuration(prefix+"_RATE_WINDOW", window),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
