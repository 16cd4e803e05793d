package handlers

import (
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/logging"
	"github.com/brahmalabs/baman-engine/pkg/models"
	"github.com/brahmalabs/baman-engine/pkg/services"
)

// SendMessageRequest for POST /api/chat/{aid}
type SendMessageRequest struct {
	Message string `json:"message"`
}

// ChatPageResponse for GET /api/chat/{aid}
type ChatPageResponse struct {
	Assistant     *models.Assistant             `json:"assistant"`
	Conversations []models.ConversationSummary  `json:"conversations"`
	Session       services.ConversationSnapshot `json:"session"`
}

// ConversationListResponse for GET /api/assistants/{aid}/conversations
type ConversationListResponse struct {
	Conversations []models.ConversationSummary `json:"conversations"`
	Total         int                          `json:"total"`
}

// ChatHandler handles student conversations with an assistant.
type ChatHandler struct {
	registry      *services.AssistantRegistry
	conversations *services.ConversationService
	logger        *zap.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(registry *services.AssistantRegistry, conversations *services.ConversationService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		registry:      registry,
		conversations: conversations,
		logger:        logger,
	}
}

// RegisterRoutes registers the chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/api/chat/{aid}"

	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(h.Page))
	mux.HandleFunc("POST "+base, authMiddleware.RequireAuth(h.Send))
	mux.HandleFunc("POST "+base+"/resume/{conversation_id}", authMiddleware.RequireAuth(h.Resume))
	mux.HandleFunc("POST "+base+"/new", authMiddleware.RequireAuth(h.StartNew))
	mux.HandleFunc("GET /api/assistants/{aid}/conversations", authMiddleware.RequireAuth(h.ListConversations))
}

// Page handles GET /api/chat/{aid}. Assistant metadata and the conversation
// list are fetched concurrently.
func (h *ChatHandler) Page(w http.ResponseWriter, r *http.Request) {
	sess, assistantID, cs, ok := h.session(w, r)
	if !ok {
		return
	}

	var resp ChatPageResponse
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		a, err := h.registry.Get(ctx, sess, assistantID)
		if err != nil {
			return err
		}
		resp.Assistant = a
		return nil
	})
	g.Go(func() error {
		list, err := h.conversations.ListConversations(ctx, sess, assistantID)
		if err != nil {
			return err
		}
		resp.Conversations = list
		return nil
	})
	if err := g.Wait(); err != nil {
		writeServiceError(w, h.logger, "Failed to load chat", err)
		return
	}
	resp.Session = cs.Snapshot()

	writeOK(w, h.logger, http.StatusOK, resp)
}

// Send handles POST /api/chat/{aid}
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	sess, assistantID, cs, ok := h.session(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	h.logger.Debug("Chat message",
		zap.String("assistant_id", assistantID),
		zap.String("message", logging.SanitizeMessage(req.Message)))

	turn, err := cs.Send(r.Context(), sess, req.Message)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to send message", err)
		return
	}

	writeOK(w, h.logger, http.StatusOK, turn)
}

// Resume handles POST /api/chat/{aid}/resume/{conversation_id}
func (h *ChatHandler) Resume(w http.ResponseWriter, r *http.Request) {
	sess, _, cs, ok := h.session(w, r)
	if !ok {
		return
	}
	conversationID, ok := requirePathValue(w, r, "conversation_id", "invalid_conversation_id", "Conversation ID is required", h.logger)
	if !ok {
		return
	}

	snap, err := cs.Resume(r.Context(), sess, conversationID)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to resume conversation", err)
		return
	}

	writeOK(w, h.logger, http.StatusOK, snap)
}

// StartNew handles POST /api/chat/{aid}/new
func (h *ChatHandler) StartNew(w http.ResponseWriter, r *http.Request) {
	_, _, cs, ok := h.session(w, r)
	if !ok {
		return
	}

	writeOK(w, h.logger, http.StatusOK, cs.StartNew(r.Context()))
}

// ListConversations handles GET /api/assistants/{aid}/conversations
func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r, h.logger)
	if !ok {
		return
	}
	assistantID, ok := ParseAssistantID(w, r, h.logger)
	if !ok {
		return
	}

	list, err := h.conversations.ListConversations(r.Context(), sess, assistantID)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to list conversations", err)
		return
	}

	writeOK(w, h.logger, http.StatusOK, ConversationListResponse{Conversations: list, Total: len(list)})
}

func (h *ChatHandler) session(w http.ResponseWriter, r *http.Request) (*auth.SessionContext, string, *services.ConversationSession, bool) {
	sess, ok := requireSession(w, r, h.logger)
	if !ok {
		return nil, "", nil, false
	}
	assistantID, ok := ParseAssistantID(w, r, h.logger)
	if !ok {
		return nil, "", nil, false
	}

	cs, err := h.conversations.Session(r.Context(), sess, assistantID)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to open conversation", err)
		return nil, "", nil, false
	}
	return sess, assistantID, cs, true
}
