// Package backend is the JSON-over-HTTP client of the tutoring backend that
// stores assistants, digests sources and answers chat messages.
package backend

import (
	"context"

	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/jsonutil"
	"github.com/brahmalabs/baman-engine/pkg/models"
)

// API is the set of backend operations used by the services. Every call
// carries the caller's session explicitly.
type API interface {
	GetAssistant(ctx context.Context, sess *auth.SessionContext, assistantID string) (*models.Assistant, error)
	ListAssistants(ctx context.Context, sess *auth.SessionContext) ([]models.AssistantSummary, error)
	ListStudentAssistants(ctx context.Context, sess *auth.SessionContext) ([]models.AssistantSummary, error)
	CreateAssistant(ctx context.Context, sess *auth.SessionContext, meta models.AssistantMetadata) (string, error)
	UpdateAssistant(ctx context.Context, sess *auth.SessionContext, assistantID string, patch models.AssistantPatch) (*models.Assistant, error)
	AddStudent(ctx context.Context, sess *auth.SessionContext, assistantID, studentID string) (string, error)
	RemoveStudent(ctx context.Context, sess *auth.SessionContext, assistantID, studentID string) (string, error)

	DigestSource(ctx context.Context, sess *auth.SessionContext, sourceURL, assistantID string, tag models.CorpusTag) (*models.ContentArtifact, error)
	DeleteContent(ctx context.Context, sess *auth.SessionContext, assistantID, artifactID string, tag models.CorpusTag) (string, error)

	SendChat(ctx context.Context, sess *auth.SessionContext, req ChatRequest) (*ChatResponse, error)
	GetConversation(ctx context.Context, sess *auth.SessionContext, conversationID string) (*models.Conversation, error)
	ListConversations(ctx context.Context, sess *auth.SessionContext, assistantID string) ([]models.ConversationSummary, error)
}

// ChatRequest is the body of POST /chat. A nil ConversationID asks the
// backend to start a new conversation.
type ChatRequest struct {
	AssistantID    string  `json:"assistant_id"`
	ConversationID *string `json:"conversation_id"`
	Message        string  `json:"message"`
}

// ChatResponse is the backend's reply to one chat turn. ConversationID is
// only set when the request had no conversation id.
type ChatResponse struct {
	Message        string                  `json:"message"`
	ConversationID jsonutil.FlexibleString `json:"conversation_id,omitempty"`
	References     models.ReferenceSet     `json:"references"`
}

type digestRequest struct {
	Source      string           `json:"source"`
	AssistantID string           `json:"assistant_id"`
	CorpusTag   models.CorpusTag `json:"corpus_tag"`
}

type digestResponse struct {
	Content *models.ContentArtifact `json:"content"`
}

type membershipRequest struct {
	AssistantID string `json:"assistant_id"`
	StudentID   string `json:"student_id"`
}

type deleteContentRequest struct {
	AssistantID string           `json:"assistant_id"`
	ContentID   string           `json:"content_id"`
	CorpusTag   models.CorpusTag `json:"corpus_tag"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type assistantEnvelope struct {
	Assistant *models.Assistant `json:"assistant"`
	Message   string            `json:"message,omitempty"`
}

type assistantsEnvelope struct {
	Assistants []models.AssistantSummary `json:"assistants"`
}

type createAssistantResponse struct {
	AssistantID jsonutil.FlexibleString `json:"assistant_id"`
}

type conversationsEnvelope struct {
	Conversations []models.ConversationSummary `json:"conversations"`
}

type conversationResponse struct {
	ID         jsonutil.FlexibleString `json:"id,omitempty"`
	Title      string                  `json:"title,omitempty"`
	Messages   []models.Message        `json:"messages"`
	References models.ReferenceSet     `json:"references"`
}
