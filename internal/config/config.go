package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrConfigurationMissing is returned by Load when a required variable is absent.
var ErrConfigurationMissing = errors.New("configuration missing")

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL    string
	DBQueryTimeout time.Duration

	// Redis
	RedisURL string

	// JWT
	JWTSecret     string
	JWTAccessTTL  time.Duration
	JWTRefreshTTL time.Duration

	// CORS
	AllowedOrigins []string

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeTimeout       time.Duration
	StripeMaxRetries    int
	StripeAPIURL        string

	// Checkout
	FrontendURL        string
	CheckoutSuccessURL string
	CheckoutCancelURL  string
	CatalogPath        string

	// Reconciliation
	ReconcileEnabled         bool
	ReconcileInterval        time.Duration
	ReconcileLookback        time.Duration
	ClaimTTL                 time.Duration
	MembershipExpiryInterval time.Duration
	MembershipRenewalGrace   time.Duration

	// Webhook archive (S3-compatible bucket, or a local directory in development)
	ArchiveBucket          string
	ArchiveEndpoint        string
	ArchiveRegion          string
	ArchiveAccessKeyID     string
	ArchiveSecretAccessKey string
	ArchivePathStyle       bool
	ArchiveDir             string

	// OTP
	OTPTTL            time.Duration
	OTPMaxAttempts    int
	OTPResendCooldown time.Duration

	// Observability
	LogLevel       string
	LogFile        string
	MetricsEnabled bool
}

// Load reads configuration from the environment. Missing secrets are reported
// together through ErrConfigurationMissing.
func Load() (*Config, error) {
	cfg := Read()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads configuration without validating it. Tools that need only part
// of it check the fields they use.
func Read() *Config {
	// Load .env file in development
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	frontendURL := strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/")

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		// Database
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DBQueryTimeout: parseDuration(getEnv("DB_QUERY_TIMEOUT", "3s"), 3*time.Second),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", ""),
		JWTAccessTTL:  parseDuration(getEnv("JWT_ACCESS_TTL", "15m"), 15*time.Minute),
		JWTRefreshTTL: parseDuration(getEnv("JWT_REFRESH_TTL", "168h"), 168*time.Hour),

		// CORS
		AllowedOrigins: parseStringSlice(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		// Stripe
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeTimeout:       parseDuration(getEnv("STRIPE_TIMEOUT", "10s"), 10*time.Second),
		StripeMaxRetries:    parseInt(getEnv("STRIPE_MAX_RETRIES", "2"), 2),
		StripeAPIURL:        getEnv("STRIPE_API_URL", ""),

		// Checkout
		FrontendURL:        frontendURL,
		CheckoutSuccessURL: getEnv("CHECKOUT_SUCCESS_URL", frontendURL+"/payment/success?session_id={CHECKOUT_SESSION_ID}"),
		CheckoutCancelURL:  getEnv("CHECKOUT_CANCEL_URL", frontendURL+"/payment/cancelled"),
		CatalogPath:        getEnv("CATALOG_PATH", ""),

		// Reconciliation
		ReconcileEnabled:         parseBool(getEnv("RECONCILE_ENABLED", "false"), false),
		ReconcileInterval:        parseDuration(getEnv("RECONCILE_INTERVAL", "5m"), 5*time.Minute),
		ReconcileLookback:        parseDuration(getEnv("RECONCILE_LOOKBACK", "48h"), 48*time.Hour),
		ClaimTTL:                 parseDuration(getEnv("CLAIM_TTL", "720h"), 720*time.Hour),
		MembershipExpiryInterval: parseDuration(getEnv("MEMBERSHIP_EXPIRY_INTERVAL", "1h"), time.Hour),
		MembershipRenewalGrace:   parseDuration(getEnv("MEMBERSHIP_RENEWAL_GRACE", "48h"), 48*time.Hour),

		// Webhook archive
		ArchiveBucket:          getEnv("ARCHIVE_BUCKET", ""),
		ArchiveEndpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
		ArchiveRegion:          getEnv("ARCHIVE_REGION", "auto"),
		ArchiveAccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
		ArchiveSecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
		ArchivePathStyle:       parseBool(getEnv("ARCHIVE_PATH_STYLE", "false"), false),
		ArchiveDir:             getEnv("ARCHIVE_DIR", ""),

		// OTP
		OTPTTL:            parseDuration(getEnv("OTP_TTL", "5m"), 5*time.Minute),
		OTPMaxAttempts:    parseInt(getEnv("OTP_MAX_ATTEMPTS", "5"), 5),
		OTPResendCooldown: parseDuration(getEnv("OTP_RESEND_COOLDOWN", "60s"), time.Minute),

		// Observability
		LogLevel:       getEnv("LOG_LEVEL", "debug"),
		LogFile:        getEnv("LOG_FILE", ""),
		MetricsEnabled: parseBool(getEnv("METRICS_ENABLED", "true"), true),
	}

	if cfg.JWTSecret == "" && !cfg.IsProduction() {
		cfg.JWTSecret = "dev-secret-change-me"
	}
	return cfg
}

// Validate reports every required variable that is still empty.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"DATABASE_URL", c.DatabaseURL},
		{"STRIPE_SECRET_KEY", c.StripeSecretKey},
		{"STRIPE_WEBHOOK_SECRET", c.StripeWebhookSecret},
		{"JWT_SECRET", c.JWTSecret},
	}

	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigurationMissing, strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func parseBool(s string, defaultValue bool) bool {
	value, err := strconv.ParseBool(s)
	if err != nil {
		return defaultValue
	}
	return value
}

func parseInt(s string, defaultValue int) int {
	value, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return value
}

func parseStringSlice(s string) []string {
	result := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
