package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/audit"
	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/models"
	"github.com/brahmalabs/baman-engine/pkg/services"
)

// CreateAssistantRequest for POST /api/assistants
type CreateAssistantRequest struct {
	Subject      string `json:"subject"`
	ClassName    string `json:"class_name"`
	About        string `json:"about,omitempty"`
	ProfileImage string `json:"profile_image,omitempty"`
}

// AddStudentRequest for POST /api/assistants/{aid}/students
type AddStudentRequest struct {
	StudentID string `json:"student_id"`
}

// AssistantListResponse for GET /api/assistants
type AssistantListResponse struct {
	Assistants []models.AssistantSummary `json:"assistants"`
	Total      int                       `json:"total"`
}

// AssistantsHandler handles assistant and membership requests.
type AssistantsHandler struct {
	registry      *services.AssistantRegistry
	conversations *services.ConversationService
	auditor       *audit.Auditor
	logger        *zap.Logger
}

// NewAssistantsHandler creates a new assistants handler. auditor may be nil.
func NewAssistantsHandler(registry *services.AssistantRegistry, conversations *services.ConversationService, auditor *audit.Auditor, logger *zap.Logger) *AssistantsHandler {
	return &AssistantsHandler{
		registry:      registry,
		conversations: conversations,
		auditor:       auditor,
		logger:        logger,
	}
}

// RegisterRoutes registers the assistant routes on the given mux.
func (h *AssistantsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/api/assistants"

	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("POST "+base, authMiddleware.RequireTeacher(h.Create))
	mux.HandleFunc("GET "+base+"/{aid}", authMiddleware.RequireAuth(h.Get))
	mux.HandleFunc("PATCH "+base+"/{aid}", authMiddleware.RequireTeacher(h.Update))
	mux.HandleFunc("DELETE "+base+"/{aid}/view", authMiddleware.RequireAuth(h.CloseView))
	mux.HandleFunc("POST "+base+"/{aid}/students", authMiddleware.RequireTeacher(h.AddStudent))
	mux.HandleFunc("DELETE "+base+"/{aid}/students/{sid}", authMiddleware.RequireTeacher(h.RemoveStudent))
}

// List handles GET /api/assistants
func (h *AssistantsHandler) List(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r, h.logger)
	if !ok {
		return
	}

	list, err := h.registry.List(r.Context(), sess)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to list assistants", err)
		return
	}

	writeOK(w, h.logger, http.StatusOK, AssistantListResponse{Assistants: list, Total: len(list)})
}

// Create handles POST /api/assistants
func (h *AssistantsHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateAssistantRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	res := h.registry.Create(r.Context(), sess, models.AssistantMetadata{
		Subject:      req.Subject,
		ClassName:    req.ClassName,
		About:        req.About,
		ProfileImage: req.ProfileImage,
	})
	if res.IsOk() {
		h.auditor.Record(sess, audit.EventAssistantCreated, res.Value().ID.String(),
			map[string]string{"subject": res.Value().Subject}, r.RemoteAddr)
	}
	h.writeResult(w, http.StatusCreated, "Failed to create assistant", res)
}

// Get handles GET /api/assistants/{aid}
func (h *AssistantsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r, h.logger)
	if !ok {
		return
	}
	assistantID, ok := ParseAssistantID(w, r, h.logger)
	if !ok {
		return
	}

	a, err := h.registry.Get(r.Context(), sess, assistantID)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to get assistant", err)
		return
	}

	writeOK(w, h.logger, http.StatusOK, a)
}

// Update handles PATCH /api/assistants/{aid}
func (h *AssistantsHandler) Update(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r, h.logger)
	if !ok {
		return
	}
	assistantID, ok := ParseAssistantID(w, r, h.logger)
	if !ok {
		return
	}

	var patch models.AssistantPatch
	if !decodeJSON(w, r, &patch, h.logger) {
		return
	}

	res := h.registry.Update(r.Context(), sess, assistantID, patch)
	if res.IsOk() {
		h.auditor.Record(sess, audit.EventAssistantUpdated, assistantID, nil, r.RemoteAddr)
	}
	h.writeResult(w, http.StatusOK, "Failed to update assistant", res)
}

// AddStudent handles POST /api/assistants/{aid}/students
func (h *AssistantsHandler) AddStudent(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r, h.logger)
	if !ok {
		return
	}
	assistantID, ok := ParseAssistantID(w, r, h.logger)
	if !ok {
		return
	}

	var req AddStudentRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	res := h.registry.AddStudent(r.Context(), sess, assistantID, req.StudentID)
	if res.IsOk() {
		h.auditor.Record(sess, audit.EventStudentAdded, assistantID,
			map[string]string{"student_id": req.StudentID}, r.RemoteAddr)
	}
	h.writeResult(w, http.StatusOK, "Failed to add student", res)
}

// RemoveStudent handles DELETE /api/assistants/{aid}/students/{sid}
func (h *AssistantsHandler) RemoveStudent(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r, h.logger)
	if !ok {
		return
	}
	assistantID, ok := ParseAssistantID(w, r, h.logger)
	if !ok {
		return
	}

	studentID := r.PathValue("sid")
	res := h.registry.RemoveStudent(r.Context(), sess, assistantID, studentID)
	if res.IsOk() {
		h.auditor.Record(sess, audit.EventStudentRemoved, assistantID,
			map[string]string{"student_id": studentID}, r.RemoteAddr)
	}
	h.writeResult(w, http.StatusOK, "Failed to remove student", res)
}

// CloseView handles DELETE /api/assistants/{aid}/view. It drops the
// caller's view, cancels a digestion batch only if the caller started it
// and closes the caller's chat session.
func (h *AssistantsHandler) CloseView(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r, h.logger)
	if !ok {
		return
	}
	assistantID, ok := ParseAssistantID(w, r, h.logger)
	if !ok {
		return
	}

	h.registry.Forget(services.ViewOf(sess, assistantID))
	h.conversations.Discard(sess, assistantID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AssistantsHandler) writeResult(w http.ResponseWriter, status int, msg string, res models.Result[*models.Assistant]) {
	if !res.IsOk() {
		writeServiceError(w, h.logger, msg, res.Err())
		return
	}
	res.Apply(func(a *models.Assistant) {
		writeOK(w, h.logger, status, a)
	})
}
