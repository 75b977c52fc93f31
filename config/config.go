package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the server. It is built once at
// startup and handed to the components that need it.
type Config struct {
	Env  string
	Port string

	MongoURI string
	MongoDB  string

	JWTSecret string
	TokenTTL  time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CatalogCacheTTL time.Duration
	ReservationTTL  time.Duration
	SweepInterval   time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	UploadDir   string
	CORSOrigins []string
	LogLevel    string
}

var ErrMissing = errors.New("config: missing required value")

// Load reads a .env file when present and then the process environment.
// The returned bool reports whether a .env file was loaded.
func Load() (*Config, bool, error) {
	loaded := godotenv.Load() == nil

	cfg := &Config{
		Env:                 getenv("APP_ENV", "production"),
		Port:                normalizePort(getenv("PORT", ":8080")),
		MongoURI:            os.Getenv("MONGODB_URI"),
		MongoDB:             getenv("MONGODB_DB", "farmstand"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Currency:            strings.ToLower(getenv("CURRENCY", "usd")),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		UploadDir:           getenv("UPLOAD_DIR", "static/uploads"),
		CORSOrigins:         splitList(getenv("CORS_ORIGINS", "*")),
		LogLevel:            getenv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.TokenTTL, err = durationEnv("TOKEN_TTL", 7*24*time.Hour); err != nil {
		return nil, loaded, err
	}
	if cfg.CatalogCacheTTL, err = durationEnv("CATALOG_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, loaded, err
	}
	if cfg.ReservationTTL, err = durationEnv("RESERVATION_TTL", 24*time.Hour); err != nil {
		return nil, loaded, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", 10*time.Minute); err != nil {
		return nil, loaded, err
	}
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, loaded, err
	}
	if cfg.RateLimitBurst, err = intEnv("RATE_LIMIT_BURST", 10); err != nil {
		return nil, loaded, err
	}
	if cfg.RateLimitRPS, err = floatEnv("RATE_LIMIT_RPS", 5); err != nil {
		return nil, loaded, err
	}

	if cfg.MongoURI == "" {
		return nil, loaded, fmt.Errorf("%w: MONGODB_URI", ErrMissing)
	}
	if cfg.JWTSecret == "" {
		return nil, loaded, fmt.Errorf("%w: JWT_SECRET", ErrMissing)
	}
	return cfg, loaded, nil
}

// PaymentsEnabled reports whether the Stripe secret key is configured.
func (c *Config) PaymentsEnabled() bool { return c.StripeSecretKey != "" }

func (c *Config) Development() bool { return c.Env == "development" }

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func normalizePort(p string) string {
	if p != "" && p[0] != ':' {
		return ":" + p
	}
	return p
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: invalid %s %q", key, v)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("config: invalid %s %q", key, v)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("config: invalid %s %q", key, v)
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
