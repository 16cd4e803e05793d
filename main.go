package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/app"
	"github.com/brahmalabs/baman-engine/pkg/audit"
	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/config"
	"github.com/brahmalabs/baman-engine/pkg/handlers"
	"github.com/brahmalabs/baman-engine/pkg/middleware"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := app.NewLogger(cfg.Env, false)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("backend_url", cfg.Backend.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.Bool("database", cfg.Database.Enabled),
		zap.Int("digestion_concurrency", cfg.Digestion.Concurrency))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialise services", zap.Error(err))
	}
	defer a.Close()

	jwks, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		logger.Fatal("Failed to create JWKS client", zap.Error(err))
	}
	defer jwks.Close()
	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwks, cfg.Auth.CookieName, logger), logger)

	auditor := audit.NewAuditor(logger)
	mux := http.NewServeMux()

	// Register handlers
	handlers.NewHealthHandler(cfg, a.Digestion, logger).RegisterRoutes(mux)
	handlers.NewAssistantsHandler(a.Registry, a.Conversations, auditor, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewContentHandler(a.Registry, a.Store, a.Digestion, a.Uploads, cfg.Storage.MaxUploadBytes()*4, auditor, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewChatHandler(a.Registry, a.Conversations, logger).RegisterRoutes(mux, authMiddleware)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting baman-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
