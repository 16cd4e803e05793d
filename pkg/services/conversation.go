package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/apperrors"
	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/backend"
	"github.com/brahmalabs/baman-engine/pkg/logging"
	"github.com/brahmalabs/baman-engine/pkg/models"
	"github.com/brahmalabs/baman-engine/pkg/repositories"
)

// ConversationState is the state of a ConversationSession.
type ConversationState string

const (
	NoConversation     ConversationState = "no_conversation"
	ActiveConversation ConversationState = "active"
)

// TurnResult is the outcome of one successful Send. NewConversation is set
// when this turn minted the id; the caller should re-address itself to
// ConversationID.
type TurnResult struct {
	Reply           string              `json:"reply"`
	ConversationID  string              `json:"conversation_id"`
	NewConversation bool                `json:"new_conversation"`
	References      models.ReferenceSet `json:"references"`
}

// ConversationSnapshot is a copy of a session's visible state.
// KnownConversationID is the bookmarked conversation a session in
// NoConversation may resume.
type ConversationSnapshot struct {
	AssistantID         string              `json:"assistant_id"`
	State               ConversationState   `json:"state"`
	ConversationID      string              `json:"conversation_id,omitempty"`
	KnownConversationID string              `json:"known_conversation_id,omitempty"`
	Messages            []models.Message    `json:"messages"`
	References          models.ReferenceSet `json:"references"`
}

// ConversationSession is the chat state of one student with one assistant.
//
// Sends are serialised so messages keep chronological order. StartNew and
// Close bump the epoch; a round trip that returns into a newer epoch is
// dropped with apperrors.ErrStaleSession.
type ConversationSession struct {
	assistantID string
	studentID   string

	api       backend.API
	bookmarks repositories.BookmarkRepository
	logger    *zap.Logger

	sendMu sync.Mutex

	mu             sync.Mutex
	epoch          uint64
	closed         bool
	state          ConversationState
	conversationID string
	knownID        string
	messages       []models.Message
	references     models.ReferenceSet
}

func newConversationSession(assistantID, studentID, knownID string, api backend.API, bookmarks repositories.BookmarkRepository, logger *zap.Logger) *ConversationSession {
	return &ConversationSession{
		assistantID: assistantID,
		studentID:   studentID,
		api:         api,
		bookmarks:   bookmarks,
		logger:      logger,
		state:       NoConversation,
		knownID:     knownID,
		references:  emptyReferences(),
	}
}

// Send posts message to the chat endpoint. In NoConversation the request
// carries a null id and the backend mints one. Both the user message and the
// reply are appended once the round trip succeeds; on failure nothing changes.
func (s *ConversationSession) Send(ctx context.Context, sess *auth.SessionContext, message string) (*TurnResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, apperrors.NewValidationError("message", "must not be empty")
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperrors.ErrStaleSession
	}
	epoch := s.epoch
	state := s.state
	req := backend.ChatRequest{AssistantID: s.assistantID, Message: message}
	if state == ActiveConversation {
		id := s.conversationID
		req.ConversationID = &id
	}
	s.mu.Unlock()

	resp, err := s.api.SendChat(ctx, sess, req)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if resp == nil {
		return nil, &apperrors.BackendError{Op: "chat", Message: "empty response"}
	}

	minted := resp.ConversationID.String()
	if state == NoConversation && minted == "" {
		return nil, &apperrors.BackendError{Op: "chat", Message: "no conversation id returned for new conversation"}
	}

	s.mu.Lock()
	if s.closed || s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Info("Dropping chat reply for a replaced conversation",
			zap.String("assistant_id", s.assistantID),
			zap.String("student_id", s.studentID))
		return nil, apperrors.ErrStaleSession
	}

	newConversation := false
	if s.state == NoConversation {
		s.conversationID = minted
		s.knownID = ""
		s.state = ActiveConversation
		newConversation = true
	} else if minted != "" && minted != s.conversationID {
		s.logger.Warn("Ignoring conversation id returned for an existing conversation",
			zap.String("conversation_id", s.conversationID),
			zap.String("returned_id", minted))
	}

	s.messages = append(s.messages,
		models.Message{Sender: models.RoleUser, Content: message},
		models.Message{Sender: models.RoleAssistant, Content: resp.Message},
	)
	s.references = cloneReferences(resp.References)

	result := &TurnResult{
		Reply:           resp.Message,
		ConversationID:  s.conversationID,
		NewConversation: newConversation,
		References:      cloneReferences(s.references),
	}
	s.mu.Unlock()

	s.logger.Debug("Chat turn completed",
		zap.String("assistant_id", s.assistantID),
		zap.String("conversation_id", result.ConversationID),
		zap.String("message", logging.SanitizeMessage(message)),
		zap.Int("references", result.References.Len()))

	if newConversation {
		s.saveBookmark(ctx, result.ConversationID)
	}
	return result, nil
}

// Resume loads the full history of conversationID and makes it active. The
// transcript and references are replaced only if the load succeeds.
func (s *ConversationSession) Resume(ctx context.Context, sess *auth.SessionContext, conversationID string) (ConversationSnapshot, error) {
	if conversationID == "" {
		return ConversationSnapshot{}, apperrors.NewValidationError("conversation_id", "required")
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ConversationSnapshot{}, apperrors.ErrStaleSession
	}
	epoch := s.epoch
	s.mu.Unlock()

	conv, err := s.api.GetConversation(ctx, sess, conversationID)
	if err != nil {
		return ConversationSnapshot{}, fmt.Errorf("resume conversation %s: %w", conversationID, err)
	}

	s.mu.Lock()
	if s.closed || s.epoch != epoch {
		s.mu.Unlock()
		return ConversationSnapshot{}, apperrors.ErrStaleSession
	}
	s.epoch++
	s.state = ActiveConversation
	s.conversationID = conversationID
	s.knownID = ""
	s.messages = append([]models.Message(nil), conv.Messages...)
	s.references = cloneReferences(conv.References)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("Conversation resumed",
		zap.String("assistant_id", s.assistantID),
		zap.String("conversation_id", conversationID),
		zap.Int("messages", len(snap.Messages)))

	s.saveBookmark(ctx, conversationID)
	return snap, nil
}

// StartNew drops the current conversation and returns to NoConversation.
// Server-side history is kept; only the local bookmark is cleared.
func (s *ConversationSession) StartNew(ctx context.Context) ConversationSnapshot {
	s.mu.Lock()
	s.epoch++
	s.state = NoConversation
	s.conversationID = ""
	s.knownID = ""
	s.messages = nil
	s.references = emptyReferences()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.bookmarks.Delete(ctx, s.assistantID, s.studentID); err != nil {
		s.logger.Warn("Failed to clear conversation bookmark",
			zap.String("assistant_id", s.assistantID),
			zap.Error(err))
	}
	return snap
}

// Snapshot returns a copy of the session state.
func (s *ConversationSession) Snapshot() ConversationSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// State returns the current state.
func (s *ConversationSession) State() ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// close invalidates the session. Pending round trips become stale.
func (s *ConversationSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.epoch++
}

func (s *ConversationSession) snapshotLocked() ConversationSnapshot {
	return ConversationSnapshot{
		AssistantID:         s.assistantID,
		State:               s.state,
		ConversationID:      s.conversationID,
		KnownConversationID: s.knownID,
		Messages:            append([]models.Message{}, s.messages...),
		References:          cloneReferences(s.references),
	}
}

func (s *ConversationSession) saveBookmark(ctx context.Context, conversationID string) {
	if err := s.bookmarks.Save(ctx, s.assistantID, s.studentID, conversationID); err != nil {
		s.logger.Warn("Failed to save conversation bookmark",
			zap.String("assistant_id", s.assistantID),
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}
}

func emptyReferences() models.ReferenceSet {
	return models.ReferenceSet{Own: []models.Reference{}, Supported: []models.Reference{}}
}

func cloneReferences(r models.ReferenceSet) models.ReferenceSet {
	return models.ReferenceSet{
		Own:       append([]models.Reference{}, r.Own...),
		Supported: append([]models.Reference{}, r.Supported...),
	}
}

type sessionKey struct {
	assistantID string
	studentID   string
}

// ConversationService owns one ConversationSession per (assistant, student).
type ConversationService struct {
	api       backend.API
	bookmarks repositories.BookmarkRepository
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*ConversationSession
}

// NewConversationService creates a conversation service.
func NewConversationService(api backend.API, bookmarks repositories.BookmarkRepository, logger *zap.Logger) *ConversationService {
	return &ConversationService{
		api:       api,
		bookmarks: bookmarks,
		logger:    logger.Named("conversation"),
		sessions:  make(map[sessionKey]*ConversationSession),
	}
}

// Session returns the caller's session with the assistant, creating it in
// NoConversation with the bookmarked id as its known conversation.
func (s *ConversationService) Session(ctx context.Context, sess *auth.SessionContext, assistantID string) (*ConversationSession, error) {
	if assistantID == "" {
		return nil, apperrors.NewValidationError("assistant_id", "required")
	}
	studentID := sess.UserID()
	if studentID == "" {
		return nil, apperrors.NewValidationError("student_id", "credential has no subject")
	}
	key := sessionKey{assistantID, studentID}

	s.mu.Lock()
	if cs, ok := s.sessions[key]; ok {
		s.mu.Unlock()
		return cs, nil
	}
	s.mu.Unlock()

	knownID, err := s.bookmarks.Get(ctx, assistantID, studentID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Warn("Failed to read conversation bookmark",
				zap.String("assistant_id", assistantID),
				zap.Error(err))
		}
		knownID = ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.sessions[key]; ok {
		return cs, nil
	}
	cs := newConversationSession(assistantID, studentID, knownID, s.api, s.bookmarks, s.logger)
	s.sessions[key] = cs
	return cs, nil
}

// ListConversations returns the caller's previous conversations with the assistant.
func (s *ConversationService) ListConversations(ctx context.Context, sess *auth.SessionContext, assistantID string) ([]models.ConversationSummary, error) {
	if assistantID == "" {
		return nil, apperrors.NewValidationError("assistant_id", "required")
	}
	list, err := s.api.ListConversations(ctx, sess, assistantID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if list == nil {
		list = []models.ConversationSummary{}
	}
	return list, nil
}

// Discard closes and forgets the caller's session with the assistant.
func (s *ConversationService) Discard(sess *auth.SessionContext, assistantID string) {
	key := sessionKey{assistantID, sess.UserID()}

	s.mu.Lock()
	cs, ok := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()

	if ok {
		cs.close()
	}
}
