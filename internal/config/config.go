package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	CORSAllowedOrigins []string

	// Pricing knobs, all in integer cents or basis points.
	TaxBps                     int64
	FreeShippingThresholdCents int64
	FlatShippingCents          int64

	// Promo and ledger behavior.
	DefaultPerUserLimit int32
	ReservationTTL      time.Duration
	SweepInterval       time.Duration
	SweepBatch          int

	// Payment gateway.
	GatewayBaseURL   string
	GatewaySecret    string
	IntentTTL        time.Duration
	WebhookReplayTTL time.Duration

	// HTTP hardening.
	IdempotencyTTL  time.Duration
	RateLimitPerMin int
	GlobalRateLimit string
	MaxBodyBytes    int64

	// Resilience for outbound gateway calls.
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	LockTTL time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          valueOrDefault(k.String("JWT_ISSUER"), "checkout-engine"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		TaxBps:                     parseInt64(k.String("TAX_BPS"), 800),
		FreeShippingThresholdCents: parseInt64(k.String("FREE_SHIPPING_THRESHOLD_CENTS"), 5000),
		FlatShippingCents:          parseInt64(k.String("FLAT_SHIPPING_CENTS"), 599),

		DefaultPerUserLimit: int32(parseInt64(k.String("PROMO_DEFAULT_PER_USER_LIMIT"), 1)),
		ReservationTTL:      parseDuration(k.String("RESERVATION_TTL"), "15m"),
		SweepInterval:       parseDuration(k.String("SWEEP_INTERVAL"), "1m"),
		SweepBatch:          int(parseInt64(k.String("SWEEP_BATCH"), 100)),

		GatewayBaseURL:   k.String("GATEWAY_BASE_URL"),
		GatewaySecret:    k.String("GATEWAY_SECRET"),
		IntentTTL:        parseDuration(k.String("PAYMENT_INTENT_TTL"), "30m"),
		WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),

		IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimitPerMin: int(parseInt64(k.String("RATE_LIMIT_PER_MIN"), 60)),
		GlobalRateLimit: valueOrDefault(k.String("GLOBAL_RATE_LIMIT"), "600-M"),
		MaxBodyBytes:    parseInt64(k.String("MAX_BODY_BYTES"), 1<<20),

		BreakerFailureThreshold: int(parseInt64(k.String("BREAKER_FAILURE_THRESHOLD"), 5)),
		BreakerCooldown:         parseDuration(k.String("BREAKER_COOLDOWN"), "30s"),

		LockTTL: parseDuration(k.String("LOCK_TTL"), "2m"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.GatewaySecret == "" {
		return nil, errors.New("GATEWAY_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// LoadForTests returns a config with in-memory friendly defaults, skipping
// the required-variable checks.
func LoadForTests() *Config {
	return &Config{
		AppEnv:                     "test",
		Port:                       "0",
		JWTSecret:                  "test-secret",
		JWTIssuer:                  "checkout-engine",
		TaxBps:                     800,
		FreeShippingThresholdCents: 5000,
		FlatShippingCents:          599,
		DefaultPerUserLimit:        1,
		ReservationTTL:             15 * time.Minute,
		SweepInterval:              time.Minute,
		SweepBatch:                 100,
		GatewaySecret:              "test-gateway-secret",
		IntentTTL:                  30 * time.Minute,
		WebhookReplayTTL:           24 * time.Hour,
		IdempotencyTTL:             24 * time.Hour,
		RateLimitPerMin:            60,
		GlobalRateLimit:            "600-M",
		MaxBodyBytes:               1 << 20,
		BreakerFailureThreshold:    5,
		BreakerCooldown:            30 * time.Second,
		LockTTL:                    2 * time.Minute,
	}
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt64(value string, fallback int64) int64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
