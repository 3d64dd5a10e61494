package config

import (
	"errors"
	"fmt"
	"os"
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
	CORSAllowedOrigins []string
	DBMaxConns         int32
	MigrateOnStart     bool

	TenantHeader     string
	TenantRootDomain string
	DefaultTenant    string
	TenantRequired   bool

	PricingCacheEnabled bool
	PricingCacheTTL     time.Duration
	ArticleCacheTTL     time.Duration
	BulkConcurrency     int
	BulkMaxContexts     int
	MaxScenarios        int
	PricePrecision      int32
	FormulaMaxNodes     int
	FormulaMaxSteps     int

	UsageStore       string
	UsageRedisPrefix string

	RulesBreakerMinRequests  uint64
	RulesBreakerFailureRatio float64
	RulesBreakerOpenFor      time.Duration

	RateLimitWindow        time.Duration
	RateLimitMax           int
	HTTPBodyLimitBytes     int64
	IdempotencyTTL         time.Duration
	SecurityHeadersEnabled bool
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
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		DBMaxConns:         int32(parseInt(k.String("DB_MAX_CONNS"), 10)),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START")),

		TenantHeader:     valueOrDefault(k.String("TENANT_HEADER"), "X-Tenant-ID"),
		TenantRootDomain: strings.TrimSpace(k.String("TENANT_ROOT_DOMAIN")),
		DefaultTenant:    strings.TrimSpace(k.String("DEFAULT_TENANT")),
		TenantRequired:   parseBool(k.String("TENANT_REQUIRED")),

		PricingCacheEnabled: parseBoolDefault(k.String("PRICING_CACHE_ENABLED"), true),
		PricingCacheTTL:     parseDuration(k.String("PRICING_CACHE_TTL"), "5m"),
		ArticleCacheTTL:     parseDuration(k.String("ARTICLE_CACHE_TTL"), "10m"),
		BulkConcurrency:     parseInt(k.String("PRICING_BULK_CONCURRENCY"), 8),
		BulkMaxContexts:     parseInt(k.String("PRICING_BULK_MAX_CONTEXTS"), 500),
		MaxScenarios:        parseInt(k.String("PRICING_MAX_SCENARIOS"), 50),
		PricePrecision:      int32(parseInt(k.String("PRICING_PRICE_PRECISION"), 4)),
		FormulaMaxNodes:     parseInt(k.String("FORMULA_MAX_NODES"), 256),
		FormulaMaxSteps:     parseInt(k.String("FORMULA_MAX_STEPS"), 1024),

		UsageStore:       strings.ToLower(valueOrDefault(k.String("USAGE_STORE"), "postgres")),
		UsageRedisPrefix: valueOrDefault(k.String("USAGE_REDIS_PREFIX"), "pricing:usage"),

		RulesBreakerMinRequests:  uint64(parseInt(k.String("RULES_BREAKER_MIN_REQUESTS"), 10)),
		RulesBreakerFailureRatio: parseFloat(k.String("RULES_BREAKER_FAILURE_RATIO"), 0.5),
		RulesBreakerOpenFor:      parseDuration(k.String("RULES_BREAKER_OPEN_FOR"), "30s"),

		RateLimitWindow:        parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:           parseInt(k.String("RATE_LIMIT_MAX"), 600),
		HTTPBodyLimitBytes:     int64(parseInt(k.String("HTTP_BODY_LIMIT_BYTES"), 1<<20)),
		IdempotencyTTL:         parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		SecurityHeadersEnabled: parseBoolDefault(k.String("SECURITY_HEADERS_ENABLED"), true),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	switch cfg.UsageStore {
	case "postgres", "redis":
	default:
		return nil, fmt.Errorf("USAGE_STORE must be postgres or redis, got %q", cfg.UsageStore)
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = 1
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
		return strings.TrimSpace(value)
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

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
