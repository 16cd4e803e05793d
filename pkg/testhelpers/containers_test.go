//go:build integration

package testhelpers

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/database"
)

func TestEngineDB_MigrationsApplied(t *testing.T) {
	engineDB := GetEngineDB(t)

	ctx := context.Background()

	var exists bool
	err := engineDB.DB.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = 'conversation_bookmarks'
		)`).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to query schema: %v", err)
	}
	if !exists {
		t.Error("expected conversation_bookmarks table to exist")
	}
}

func TestEngineDB_MigrationsIdempotent(t *testing.T) {
	engineDB := GetEngineDB(t)

	if err := database.RunMigrations(engineDB.DB, zap.NewNop()); err != nil {
		t.Fatalf("second migration run failed: %v", err)
	}
}
