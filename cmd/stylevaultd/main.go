// cmd/stylevaultd/main.go
// Package main implements the entry point for the StyleVault service.
// It wires the local cache, the remote store, the sync coordinator and the
// HTTP server together and handles graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stylevault/stylevault-go/internal/auth"
	"github.com/stylevault/stylevault-go/internal/config"
	"github.com/stylevault/stylevault-go/internal/event"
	"github.com/stylevault/stylevault-go/internal/localstore"
	"github.com/stylevault/stylevault-go/internal/media"
	"github.com/stylevault/stylevault-go/internal/metrics"
	"github.com/stylevault/stylevault-go/internal/remote"
	"github.com/stylevault/stylevault-go/internal/schema"
	"github.com/stylevault/stylevault-go/internal/server"
	"github.com/stylevault/stylevault-go/internal/stylist"
	svsync "github.com/stylevault/stylevault-go/internal/sync"
	"github.com/stylevault/stylevault-go/internal/telemetry"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging for the application
	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdownTracer, err := telemetry.Init("stylevault", cfg.Env, version)
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Error("tracer shutdown failed", "error", err)
		}
	}()

	// Open the local SQLite cache
	local, err := localstore.Open(cfg.CachePath, logger)
	if err != nil {
		logger.Error("failed to open local cache", "path", cfg.CachePath, "error", err)
		os.Exit(1)
	}
	defer local.Close()

	m := metrics.NewMetrics()

	// Initialize the remote store (PostgreSQL or in-memory)
	var rc remote.Client
	if cfg.DatabaseDSN != "" {
		rc, err = remote.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			logger.Error("failed to initialize postgres remote store", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("no database configured, remote store is in-memory")
		rc = remote.NewMemory()
	}
	rc = remote.NewInstrumented(rc, m)

	// Initialize event publisher (NATS JetStream or no-op)
	pub := event.NewPublisherFromEnv()
	defer pub.Close()

	// Media storage is optional; without it item photos stay inline as data URIs
	var mediaClient *media.S3Client
	if cfg.S3Bucket != "" {
		mediaClient, err = media.NewS3Client(cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			logger.Error("failed to initialize media storage", "error", err)
			os.Exit(1)
		}
	}

	// The AI stylist is optional; without a key its endpoints report unavailable
	var stylistClient stylist.Client
	if cfg.GeminiAPIKey != "" {
		stylistClient, err = stylist.NewGemini(context.Background(), cfg.GeminiAPIKey)
		if err != nil {
			logger.Error("failed to initialize stylist client", "error", err)
			os.Exit(1)
		}
		defer stylistClient.Close()
	}

	validator, err := schema.NewValidator()
	if err != nil {
		logger.Error("failed to compile entity schemas", "error", err)
		os.Exit(1)
	}

	// JWT verification against the identity provider's JWKS endpoint
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = cfg.JWTIssuer + "/.well-known/jwks.json"
	}
	verifier := auth.NewVerifier(jwksURL, cfg.JWTIssuer, cfg.JWTAudience)
	session := auth.NewSessionSource()

	// The sync coordinator owns all entity reads and writes
	coord := svsync.New(local, rc, session, validator, svsync.Options{
		Debounce:  cfg.SyncDebounce,
		Logger:    logger,
		Publisher: pub,
		Metrics:   m,
	})
	defer coord.Close()

	mux := server.NewMux(coord, rc, verifier, server.Options{
		Media:              mediaClient,
		Stylist:            stylistClient,
		StylistRateLimit:   cfg.StylistRateLimit,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             logger,
	})

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second, // Stylist calls can be slow
	}

	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	// Flush any cached writes that never reached the remote store
	if err := coord.SyncAllToCloud(shutdownCtx); err != nil {
		logger.Warn("final push incomplete", "error", err)
	}

	if pg, ok := rc.(interface{ Close() }); ok {
		pg.Close()
	}
	logger.Info("server stopped")
}
