// internal/config/config.go
// Package config provides configuration loading and management for the
// StyleVault service. It handles environment variable parsing and provides
// default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package
// initialization. godotenv.Load does not override already-set variables,
// preserving OS env > .env precedence.
func init() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the StyleVault service.
type Config struct {
	Env         string // Deployment environment (dev, staging, prod)
	Port        string // HTTP server port
	CachePath   string // SQLite local cache path (":memory:" for ephemeral)
	DatabaseDSN string // Remote store connection string (PostgreSQL); empty selects the in-memory store
	NATSURL     string // NATS server URL; empty disables event publishing

	// S3-compatible media storage
	S3Endpoint  string // S3 endpoint URL
	S3Region    string // S3 region
	S3Bucket    string // S3 bucket name
	S3AccessKey string // S3 access key
	S3SecretKey string // S3 secret key

	// Auth
	JWKSURL     string // JWKS endpoint of the identity provider
	JWTIssuer   string // Expected issuer for JWT validation
	JWTAudience string // Expected audience for JWT validation

	// Stylist
	GeminiAPIKey string // Google AI API key; empty disables stylist endpoints

	// Sync tuning
	SyncDebounce time.Duration // Debounce window for remote pushes

	// Rate limiting on stylist endpoints, requests per minute per user
	StylistRateLimit int

	// CORS configuration
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// Default configuration values used when environment variables are not set
const (
	defaultEnv              = "dev"
	defaultPort             = "8080"
	defaultCachePath        = "stylevault-cache.db"
	defaultS3Region         = "us-east-1"
	defaultSyncDebounce     = 500 * time.Millisecond
	defaultStylistRateLimit = 10
)

// Load reads environment variables and produces a Config suitable for
// wiring the service. Returns an error if required parameters are missing
// or invalid.
func Load() (Config, error) {
	cfg := Config{
		Env:              getEnv("SV_ENV", defaultEnv),
		Port:             getEnv("SV_PORT", defaultPort),
		CachePath:        getEnv("SV_CACHE_PATH", defaultCachePath),
		DatabaseDSN:      os.Getenv("SV_DB_DSN"),
		NATSURL:          os.Getenv("SV_NATS_URL"),
		S3Endpoint:       os.Getenv("SV_S3_ENDPOINT"),
		S3Region:         getEnv("SV_S3_REGION", defaultS3Region),
		S3Bucket:         os.Getenv("SV_S3_BUCKET"),
		S3AccessKey:      os.Getenv("SV_S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("SV_S3_SECRET_KEY"),
		JWKSURL:          os.Getenv("SV_JWKS_URL"),
		JWTIssuer:        os.Getenv("SV_JWT_ISSUER"),
		JWTAudience:      os.Getenv("SV_JWT_AUDIENCE"),
		GeminiAPIKey:     os.Getenv("SV_GEMINI_API_KEY"),
		SyncDebounce:     defaultSyncDebounce,
		StylistRateLimit: defaultStylistRateLimit,
	}

	if raw, exists := os.LookupEnv("SV_SYNC_DEBOUNCE_MS"); exists {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			return cfg, fmt.Errorf("SV_SYNC_DEBOUNCE_MS must be a positive integer, got %q", raw)
		}
		cfg.SyncDebounce = time.Duration(ms) * time.Millisecond
	}

	if raw, exists := os.LookupEnv("SV_STYLIST_RATE_LIMIT"); exists {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("SV_STYLIST_RATE_LIMIT must be a positive integer, got %q", raw)
		}
		cfg.StylistRateLimit = n
	}

	if corsOrigins, exists := os.LookupEnv("SV_CORS_ALLOWED_ORIGINS"); exists {
		cfg.CORSAllowedOrigins = strings.Split(corsOrigins, ",")
		for i, origin := range cfg.CORSAllowedOrigins {
			cfg.CORSAllowedOrigins[i] = strings.TrimSpace(origin)
		}
	}

	if cfg.JWTIssuer == "" {
		return cfg, fmt.Errorf("SV_JWT_ISSUER is required")
	}
	if cfg.JWTAudience == "" {
		return cfg, fmt.Errorf("SV_JWT_AUDIENCE is required")
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if
// not set or empty.
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}
