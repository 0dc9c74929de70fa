package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/atomic-shop/internal/discount"
	"github.com/noah-isme/atomic-shop/internal/money"
	"github.com/noah-isme/atomic-shop/internal/pricing"
)

// MemoryDatabaseURL selects the in-process store instead of Postgres.
const MemoryDatabaseURL = "memory://"

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	DBAutoMigrate      bool
	SecurityHeaders    bool
	EnableHSTS         bool
	BodyLimitBytes     int64

	LogFormat            string
	LogLevel             string
	MetricsNamespace     string
	EnablePrometheus     bool
	HistogramBucketsCSV  string
	EnableTracing        bool
	OTLPEndpoint         string
	TracingSamplingRatio float64

	Currency           string
	TaxRate            decimal.Decimal
	DiscountPolicy     pricing.Policy
	DiscountQtyMin     int
	DiscountQtyPercent float64
	DiscountCartTiers  []discount.AmountTier

	FreeShippingThreshold money.Cents

	CartMaxTotalItems int
	CartMaxLineItems  int
	CartSessionCookie string
	CookieSecure      bool
	LowStockThreshold int
	AbandonAfter      time.Duration
	AbandonSweepSpec  string

	IdempotencyTTL    time.Duration
	RateLimit         string
	VariantCacheTTL   time.Duration
	LockTTL           time.Duration
	LockRetryBackoff  time.Duration
	WorkerConcurrency int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	tiers, err := ParseTiers(valueOrDefault(k.String("DISCOUNT_CART_TIERS"), "10000:5,20000:10,50000:15"))
	if err != nil {
		return nil, fmt.Errorf("DISCOUNT_CART_TIERS: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		DBAutoMigrate:      parseBool(k.String("DB_AUTO_MIGRATE")),
		SecurityHeaders:    parseBoolDefault(k.String("SECURITY_HEADERS"), true),
		EnableHSTS:         parseBool(k.String("SECURITY_HSTS")),
		BodyLimitBytes:     int64(parseInt(k.String("HTTP_BODY_LIMIT_BYTES"), 64<<10)),

		LogFormat:            valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:             valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace:     valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "cartsvc"),
		EnablePrometheus:     parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
		HistogramBucketsCSV:  k.String("OBS_HTTP_BUCKETS_MS"),
		EnableTracing:        parseBool(k.String("OBS_ENABLE_TRACING")),
		OTLPEndpoint:         strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSamplingRatio: parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),

		Currency:           strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "USD")),
		TaxRate:            parseDecimal(k.String("PRICING_TAX_RATE"), pricing.DefaultTaxRate),
		DiscountPolicy:     pricing.ParsePolicy(strings.ToLower(strings.TrimSpace(k.String("PRICING_DISCOUNT_POLICY")))),
		DiscountQtyMin:     parseInt(k.String("DISCOUNT_QTY_MIN"), 5),
		DiscountQtyPercent: parseFloat(k.String("DISCOUNT_QTY_PERCENT"), 10),
		DiscountCartTiers:  tiers,

		FreeShippingThreshold: int64(parseInt(k.String("SHIPPING_FREE_THRESHOLD_CENTS"), 5000)),

		CartMaxTotalItems: parseInt(k.String("CART_MAX_TOTAL_ITEMS"), 50),
		CartMaxLineItems:  parseInt(k.String("CART_MAX_LINE_ITEMS"), 20),
		CartSessionCookie: valueOrDefault(k.String("CART_SESSION_COOKIE"), "cart_session"),
		CookieSecure:      parseBool(k.String("COOKIE_SECURE")),
		LowStockThreshold: parseInt(k.String("INVENTORY_LOW_STOCK_THRESHOLD"), 5),
		AbandonAfter:      parseDuration(k.String("CART_ABANDON_AFTER"), "24h"),
		AbandonSweepSpec:  valueOrDefault(k.String("CART_ABANDON_SWEEP_SPEC"), "@every 15m"),

		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimit:         valueOrDefault(k.String("RATE_LIMIT"), "120-M"),
		VariantCacheTTL:   parseDuration(k.String("VARIANT_CACHE_TTL"), "5m"),
		LockTTL:           parseDuration(k.String("LOCK_TTL"), "10s"),
		LockRetryBackoff:  parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 5),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.TaxRate.IsNegative() || cfg.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("PRICING_TAX_RATE must be in [0, 1), got %s", cfg.TaxRate)
	}
	if cfg.FreeShippingThreshold < 0 {
		return nil, errors.New("SHIPPING_FREE_THRESHOLD_CENTS must not be negative")
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

// UseMemoryStore reports whether DATABASE_URL selects the in-process store.
func (c *Config) UseMemoryStore() bool {
	return strings.EqualFold(c.DatabaseURL, MemoryDatabaseURL)
}

// DiscountRules builds the configured rule set.
func (c *Config) DiscountRules() []discount.Rule {
	return discount.DefaultRules(c.DiscountQtyMin, c.DiscountQtyPercent, c.DiscountCartTiers)
}

// ParseTiers reads "minCents:percent" pairs separated by commas, sorted by minimum.
func ParseTiers(value string) ([]discount.AmountTier, error) {
	parts := splitAndTrim(value)
	tiers := make([]discount.AmountTier, 0, len(parts))
	for _, part := range parts {
		minRaw, pctRaw, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("tier %q: expected min:percent", part)
		}
		minAmount, err := strconv.ParseInt(strings.TrimSpace(minRaw), 10, 64)
		if err != nil || minAmount < 0 {
			return nil, fmt.Errorf("tier %q: invalid minimum", part)
		}
		pct, err := strconv.ParseFloat(strings.TrimSpace(pctRaw), 64)
		if err != nil || pct <= 0 || pct > 100 {
			return nil, fmt.Errorf("tier %q: invalid percent", part)
		}
		tiers = append(tiers, discount.AmountTier{MinAmount: minAmount, Percent: pct})
	}
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MinAmount < tiers[j].MinAmount })
	return tiers, nil
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
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseDecimal(value string, fallback decimal.Decimal) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
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
