package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/audit"
	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/logging"
	"github.com/brahmalabs/baman-engine/pkg/models"
	"github.com/brahmalabs/baman-engine/pkg/services"
	"github.com/brahmalabs/baman-engine/pkg/storage"
)

// multipartMemory is the part of a multipart upload kept in memory; the
// rest spills to temporary files.
const multipartMemory = 32 << 20

// DigestRequest for POST /api/assistants/{aid}/digest
type DigestRequest struct {
	Corpus models.CorpusTag `json:"corpus"`
	// Sources is free text with one URL per line or comma.
	Sources string `json:"sources"`
}

// CorpusResponse for GET /api/assistants/{aid}/content/{corpus}
type CorpusResponse struct {
	Corpus    models.CorpusTag         `json:"corpus"`
	Artifacts []models.ContentArtifact `json:"artifacts"`
	Total     int                      `json:"total"`
}

// ViewStateResponse for GET /api/assistants/{aid}/view. Counts is keyed by
// the corpus wire name.
type ViewStateResponse struct {
	Selected models.CorpusTag     `json:"selected"`
	Detail   *services.DetailView `json:"detail,omitempty"`
	Counts   map[string]int       `json:"counts"`
}

// BatchResponse is returned when a digestion batch starts.
type BatchResponse struct {
	Progress services.BatchProgress `json:"progress"`
	Files    []services.FileStatus  `json:"files,omitempty"`
}

// ContentHandler handles corpus browsing, uploads and digestion.
type ContentHandler struct {
	registry  *services.AssistantRegistry
	store     *services.KnowledgeStore
	digestion *services.DigestionService
	uploads   *services.UploadService
	maxUpload int64
	auditor   *audit.Auditor
	logger    *zap.Logger
}

// NewContentHandler creates a new content handler. maxUpload bounds the
// whole multipart request body; auditor may be nil.
func NewContentHandler(
	registry *services.AssistantRegistry,
	store *services.KnowledgeStore,
	digestion *services.DigestionService,
	uploads *services.UploadService,
	maxUpload int64,
	auditor *audit.Auditor,
	logger *zap.Logger,
) *ContentHandler {
	return &ContentHandler{
		registry:  registry,
		store:     store,
		digestion: digestion,
		uploads:   uploads,
		maxUpload: maxUpload,
		auditor:   auditor,
		logger:    logger,
	}
}

// RegisterRoutes registers the content routes on the given mux.
func (h *ContentHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/api/assistants/{aid}"

	mux.HandleFunc("GET "+base+"/content/{corpus}", authMiddleware.RequireAuth(h.ListCorpus))
	mux.HandleFunc("GET "+base+"/content/{corpus}/{cid}", authMiddleware.RequireAuth(h.OpenDetail))
	mux.HandleFunc("DELETE "+base+"/detail", authMiddleware.RequireAuth(h.CloseDetail))
	mux.HandleFunc("GET "+base+"/view", authMiddleware.RequireAuth(h.ViewState))
	mux.HandleFunc("DELETE "+base+"/content/{corpus}/{cid}", authMiddleware.RequireTeacher(h.Delete))
	mux.HandleFunc("POST "+base+"/uploads", authMiddleware.RequireTeacher(h.Upload))
	mux.HandleFunc("POST "+base+"/digest", authMiddleware.RequireTeacher(h.Digest))
	mux.HandleFunc("GET "+base+"/digest", authMiddleware.RequireTeacher(h.Progress))
	mux.HandleFunc("DELETE "+base+"/digest", authMiddleware.RequireTeacher(h.Cancel))
}

// ListCorpus handles GET /api/assistants/{aid}/content/{corpus} and makes
// the corpus the displayed one.
func (h *ContentHandler) ListCorpus(w http.ResponseWriter, r *http.Request) {
	view, ok := h.loadedView(w, r)
	if !ok {
		return
	}
	tag, ok := ParseCorpus(w, r, h.logger)
	if !ok {
		return
	}

	artifacts, err := h.store.SelectCorpus(view, tag)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to list content", err)
		return
	}

	writeOK(w, h.logger, http.StatusOK, CorpusResponse{Corpus: tag, Artifacts: artifacts, Total: len(artifacts)})
}

// OpenDetail handles GET /api/assistants/{aid}/content/{corpus}/{cid}
func (h *ContentHandler) OpenDetail(w http.ResponseWriter, r *http.Request) {
	view, ok := h.loadedView(w, r)
	if !ok {
		return
	}
	tag, ok := ParseCorpus(w, r, h.logger)
	if !ok {
		return
	}
	contentID, ok := ParseContentID(w, r, h.logger)
	if !ok {
		return
	}

	artifact, err := h.store.OpenDetail(view, tag, contentID)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to open content", err)
		return
	}

	writeOK(w, h.logger, http.StatusOK, artifact)
}

// CloseDetail handles DELETE /api/assistants/{aid}/detail
func (h *ContentHandler) CloseDetail(w http.ResponseWriter, r *http.Request) {
	view, ok := h.loadedView(w, r)
	if !ok {
		return
	}

	h.store.CloseDetail(view)
	w.WriteHeader(http.StatusNoContent)
}

// ViewState handles GET /api/assistants/{aid}/view and reports what the
// caller's view shows.
func (h *ContentHandler) ViewState(w http.ResponseWriter, r *http.Request) {
	view, ok := h.loadedView(w, r)
	if !ok {
		return
	}

	selected, err := h.store.SelectedCorpus(view)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to read view", err)
		return
	}
	resp := ViewStateResponse{Selected: selected, Counts: make(map[string]int, len(models.AllCorpora))}
	for _, tag := range models.AllCorpora {
		items, err := h.store.ListCorpus(view, tag)
		if err != nil {
			writeServiceError(w, h.logger, "Failed to read view", err)
			return
		}
		resp.Counts[tag.String()] = len(items)
	}
	if detail, ok := h.store.OpenDetailView(view); ok {
		resp.Detail = &detail
	}

	writeOK(w, h.logger, http.StatusOK, resp)
}

// Delete handles DELETE /api/assistants/{aid}/content/{corpus}/{cid}
func (h *ContentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess, assistantID, ok := h.loaded(w, r)
	if !ok {
		return
	}
	tag, ok := ParseCorpus(w, r, h.logger)
	if !ok {
		return
	}
	contentID, ok := ParseContentID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.store.DeleteArtifact(r.Context(), sess, assistantID, tag, contentID); err != nil {
		writeServiceError(w, h.logger, "Failed to delete content", err)
		return
	}
	h.auditor.Record(sess, audit.EventContentDeleted, assistantID,
		map[string]string{"content_id": contentID, "corpus": tag.String()}, r.RemoteAddr)

	w.WriteHeader(http.StatusNoContent)
}

// Upload handles POST /api/assistants/{aid}/uploads. The multipart form
// carries the corpus in "corpus" and the files in "files" (or "file").
func (h *ContentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	sess, assistantID, ok := h.loaded(w, r)
	if !ok {
		return
	}

	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		status, code := http.StatusBadRequest, "invalid_request"
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			status, code = http.StatusRequestEntityTooLarge, "upload_too_large"
		}
		if err := ErrorResponse(w, status, code, "Invalid multipart upload"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Warn("Failed to remove multipart temp files", zap.Error(err))
		}
	}()

	tag, err := models.ParseCorpusTag(r.FormValue("corpus"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_corpus", "Corpus must be own or supporting"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	headers := append(r.MultipartForm.File["files"], r.MultipartForm.File["file"]...)
	files, closeAll, err := openParts(headers)
	defer closeAll()
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Failed to read uploaded file"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.uploads.UploadAndDigest(r.Context(), sess, assistantID, tag, files, nil)
	if err != nil {
		status, code := classifyError(err)
		h.logger.Warn("Upload and digest failed",
			zap.String("assistant_id", assistantID),
			zap.Int("status", status),
			zap.String("error", logging.SanitizeError(err)))
		resp := ApiResponse{Success: false, Error: code, Message: logging.SanitizeError(err)}
		if result != nil {
			resp.Data = BatchResponse{Files: result.Files}
		}
		if err := WriteJSON(w, status, resp); err != nil {
			h.logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}

	h.recordBatch(sess, result.Batch, r.RemoteAddr)
	writeOK(w, h.logger, http.StatusAccepted, BatchResponse{
		Progress: result.Batch.Progress(),
		Files:    result.Files,
	})
}

// Digest handles POST /api/assistants/{aid}/digest
func (h *ContentHandler) Digest(w http.ResponseWriter, r *http.Request) {
	sess, assistantID, ok := h.loaded(w, r)
	if !ok {
		return
	}

	var req DigestRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	sources, err := services.ParseSources(req.Sources)
	if err != nil {
		writeServiceError(w, h.logger, "Invalid sources", err)
		return
	}

	batch, err := h.digestion.DigestAll(r.Context(), sess, assistantID, req.Corpus, sources)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to start digestion", err)
		return
	}

	h.recordBatch(sess, batch, r.RemoteAddr)
	writeOK(w, h.logger, http.StatusAccepted, BatchResponse{Progress: batch.Progress()})
}

// Progress handles GET /api/assistants/{aid}/digest
func (h *ContentHandler) Progress(w http.ResponseWriter, r *http.Request) {
	_, assistantID, ok := h.loaded(w, r)
	if !ok {
		return
	}

	writeOK(w, h.logger, http.StatusOK, h.digestion.Progress(assistantID))
}

// Cancel handles DELETE /api/assistants/{aid}/digest. Only the teacher who
// started the batch or the assistant's teacher may cancel it.
func (h *ContentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r, h.logger)
	if !ok {
		return
	}
	assistantID, ok := ParseAssistantID(w, r, h.logger)
	if !ok {
		return
	}

	cancelled, err := h.registry.CancelDigestion(r.Context(), sess, assistantID)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to cancel digestion", err)
		return
	}
	if cancelled {
		h.auditor.Record(sess, audit.EventDigestionCancelled, assistantID, nil, r.RemoteAddr)
	}
	writeOK(w, h.logger, http.StatusOK, h.digestion.Progress(assistantID))
}

func (h *ContentHandler) recordBatch(sess *auth.SessionContext, batch *services.Batch, clientIP string) {
	h.auditor.Record(sess, audit.EventDigestionStarted, batch.AssistantID, map[string]string{
		"batch_id": batch.ID,
		"corpus":   batch.Corpus.String(),
		"sources":  strconv.Itoa(len(batch.Sources)),
	}, clientIP)
}

// loaded resolves the session and assistant and makes sure the assistant's
// corpora are in the Knowledge Store.
func (h *ContentHandler) loaded(w http.ResponseWriter, r *http.Request) (*auth.SessionContext, string, bool) {
	sess, ok := requireSession(w, r, h.logger)
	if !ok {
		return nil, "", false
	}
	assistantID, ok := ParseAssistantID(w, r, h.logger)
	if !ok {
		return nil, "", false
	}
	if err := h.registry.EnsureLoaded(r.Context(), sess, assistantID); err != nil {
		writeServiceError(w, h.logger, "Failed to load assistant", err)
		return nil, "", false
	}
	return sess, assistantID, true
}

// loadedView is loaded for handlers that only touch the caller's view.
func (h *ContentHandler) loadedView(w http.ResponseWriter, r *http.Request) (services.ViewKey, bool) {
	sess, assistantID, ok := h.loaded(w, r)
	if !ok {
		return services.ViewKey{}, false
	}
	return services.ViewOf(sess, assistantID), true
}

// openParts opens every uploaded part. The returned func closes whatever
// was opened and is safe to call on error.
func openParts(headers []*multipart.FileHeader) ([]storage.File, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	files := make([]storage.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		opened = append(opened, f)
		files = append(files, storage.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}
	return files, closeAll, nil
}
