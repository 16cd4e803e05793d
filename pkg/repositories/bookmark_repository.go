package repositories

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/brahmalabs/baman-engine/pkg/apperrors"
	"github.com/brahmalabs/baman-engine/pkg/database"
)

// BookmarkRepository stores the last conversation id of each
// (assistant, student) pair.
type BookmarkRepository interface {
	// Get returns apperrors.ErrNotFound when no bookmark exists.
	Get(ctx context.Context, assistantID, studentID string) (string, error)
	Save(ctx context.Context, assistantID, studentID, conversationID string) error
	Delete(ctx context.Context, assistantID, studentID string) error
}

type bookmarkRepository struct {
	db *database.DB
}

// NewBookmarkRepository creates a PostgreSQL-backed BookmarkRepository.
func NewBookmarkRepository(db *database.DB) BookmarkRepository {
	return &bookmarkRepository{db: db}
}

var _ BookmarkRepository = (*bookmarkRepository)(nil)

func (r *bookmarkRepository) Get(ctx context.Context, assistantID, studentID string) (string, error) {
	query := `
		SELECT conversation_id
		FROM conversation_bookmarks
		WHERE assistant_id = $1 AND student_id = $2`

	var conversationID string
	err := r.db.QueryRow(ctx, query, assistantID, studentID).Scan(&conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.ErrNotFound
		}
		return "", fmt.Errorf("failed to get bookmark: %w", err)
	}
	return conversationID, nil
}

func (r *bookmarkRepository) Save(ctx context.Context, assistantID, studentID, conversationID string) error {
	query := `
		INSERT INTO conversation_bookmarks (assistant_id, student_id, conversation_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (assistant_id, student_id)
		DO UPDATE SET conversation_id = EXCLUDED.conversation_id, updated_at = now()`

	if _, err := r.db.Exec(ctx, query, assistantID, studentID, conversationID); err != nil {
		return fmt.Errorf("failed to save bookmark: %w", err)
	}
	return nil
}

func (r *bookmarkRepository) Delete(ctx context.Context, assistantID, studentID string) error {
	query := `DELETE FROM conversation_bookmarks WHERE assistant_id = $1 AND student_id = $2`

	if _, err := r.db.Exec(ctx, query, assistantID, studentID); err != nil {
		return fmt.Errorf("failed to delete bookmark: %w", err)
	}
	return nil
}

type bookmarkKey struct {
	assistantID string
	studentID   string
}

// MemoryBookmarkRepository keeps bookmarks in process memory. Used when no
// database is configured.
type MemoryBookmarkRepository struct {
	mu        sync.RWMutex
	bookmarks map[bookmarkKey]string
}

// NewMemoryBookmarkRepository creates an empty in-memory BookmarkRepository.
func NewMemoryBookmarkRepository() *MemoryBookmarkRepository {
	return &MemoryBookmarkRepository{bookmarks: make(map[bookmarkKey]string)}
}

var _ BookmarkRepository = (*MemoryBookmarkRepository)(nil)

func (r *MemoryBookmarkRepository) Get(ctx context.Context, assistantID, studentID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bookmarks[bookmarkKey{assistantID, studentID}]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return id, nil
}

func (r *MemoryBookmarkRepository) Save(ctx context.Context, assistantID, studentID, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookmarks[bookmarkKey{assistantID, studentID}] = conversationID
	return nil
}

func (r *MemoryBookmarkRepository) Delete(ctx context.Context, assistantID, studentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bookmarks, bookmarkKey{assistantID, studentID})
	return nil
}
