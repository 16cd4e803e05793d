package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/models"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// ParseAssistantID extracts the assistant ID from the request path.
// Returns false after writing an error response when it is missing.
// Expects path parameter: aid
func ParseAssistantID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	return requirePathValue(w, r, "aid", "invalid_assistant_id", "Assistant ID is required", logger)
}

// ParseCorpus extracts the corpus tag ("own" or "supporting") from the path.
// Expects path parameter: corpus
func ParseCorpus(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (models.CorpusTag, bool) {
	tag, err := models.ParseCorpusTag(r.PathValue("corpus"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_corpus", "Corpus must be own or supporting"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}
	return tag, true
}

// ParseContentID extracts the artifact ID from the path.
// Expects path parameter: cid
func ParseContentID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	return requirePathValue(w, r, "cid", "invalid_content_id", "Content ID is required", logger)
}

func requirePathValue(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (string, bool) {
	v := r.PathValue(pathParam)
	if v == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return "", false
	}
	return v, true
}

// requireSession returns the caller's session stored by the auth middleware.
func requireSession(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (*auth.SessionContext, bool) {
	sess, err := auth.SessionFromContext(r.Context())
	if err != nil {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}
	return sess, true
}

// decodeJSON decodes a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, logger *zap.Logger) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return false
	}
	return true
}
