// Package app wires configuration into the services shared by the HTTP
// server and the bamanctl CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brahmalabs/baman-engine/pkg/backend"
	"github.com/brahmalabs/baman-engine/pkg/config"
	"github.com/brahmalabs/baman-engine/pkg/database"
	"github.com/brahmalabs/baman-engine/pkg/repositories"
	"github.com/brahmalabs/baman-engine/pkg/retry"
	"github.com/brahmalabs/baman-engine/pkg/services"
	"github.com/brahmalabs/baman-engine/pkg/storage"
)

// App holds the wired services.
type App struct {
	Config        *config.Config
	Logger        *zap.Logger
	Backend       *backend.Client
	Store         *services.KnowledgeStore
	Digestion     *services.DigestionService
	Uploads       *services.UploadService
	Registry      *services.AssistantRegistry
	Conversations *services.ConversationService

	db *database.DB
}

// NewLogger builds a development logger for the local environment and a
// production JSON logger otherwise.
func NewLogger(env string, verbose bool) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "local" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// New wires the services. With the database enabled, migrations run and
// conversation bookmarks are persisted; otherwise they live in memory.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	a.Backend = backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout(),
		ReadRetry: &retry.Config{
			MaxRetries:       cfg.Retry.MaxRetries,
			InitialDelay:     time.Duration(cfg.Retry.InitialDelayMS) * time.Millisecond,
			MaxDelay:         time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
			Multiplier:       2.0,
			JitterFactor:     0.1,
			MaxSameErrorType: 5,
		},
	}, logger)

	uploader := storage.NewClient(storage.Config{
		UploadURL: cfg.Storage.UploadURL,
		MaxBytes:  cfg.Storage.MaxUploadBytes(),
	}, logger)

	var bookmarks repositories.BookmarkRepository
	if cfg.Database.Enabled {
		db, err := database.NewConnection(ctx, database.ConfigFrom(cfg.Database))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.RunMigrations(db, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		a.db = db
		bookmarks = repositories.NewBookmarkRepository(db)
		logger.Info("Conversation bookmarks stored in PostgreSQL",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Database))
	} else {
		bookmarks = repositories.NewMemoryBookmarkRepository()
		logger.Info("Conversation bookmarks kept in memory")
	}

	a.Store = services.NewKnowledgeStore(a.Backend, logger)
	a.Digestion = services.NewDigestionService(a.Backend, a.Store, services.DigestionConfig{
		Concurrency: cfg.Digestion.Concurrency,
		MaxRetries:  cfg.Digestion.MaxRetries,
	}, logger)
	a.Uploads = services.NewUploadService(uploader, a.Digestion, cfg.Storage.UploadConcurrency, logger)
	a.Registry = services.NewAssistantRegistry(a.Backend, a.Store, a.Digestion, logger)
	a.Conversations = services.NewConversationService(a.Backend, bookmarks, logger)

	return a, nil
}

// Close cancels running digestion batches and closes the database.
func (a *App) Close() {
	a.Digestion.Close()
	if a.db != nil {
		a.db.Close()
	}
}
