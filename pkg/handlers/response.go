package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/apperrors"
	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/logging"
)

// ApiResponse is the envelope of every successful /api response.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// classifyError maps a service error onto an HTTP status and error code.
func classifyError(err error) (int, string) {
	var (
		ve *apperrors.ValidationError
		be *apperrors.BackendError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, auth.ErrNoSession):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperrors.ErrBatchInProgress):
		return http.StatusConflict, "digestion_in_progress"
	case errors.Is(err, apperrors.ErrStaleSession):
		return http.StatusConflict, "stale_session"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrUploadFailed):
		return http.StatusBadGateway, "upload_failed"
	case errors.Is(err, apperrors.ErrMalformed):
		return http.StatusBadGateway, "malformed_content"
	case errors.As(err, &be):
		if be.Status >= 400 && be.Status < 500 {
			return be.Status, "backend_error"
		}
		return http.StatusBadGateway, "backend_error"
	case apperrors.IsTransport(err):
		return http.StatusBadGateway, "backend_unreachable"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeServiceError logs err and writes the matching error response.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, msg string, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, zap.String("error", logging.SanitizeError(err)))
	} else {
		logger.Info(msg, zap.Int("status", status), zap.String("error", logging.SanitizeError(err)))
	}
	if err := ErrorResponse(w, status, code, logging.SanitizeError(err)); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// writeOK writes data in a success envelope.
func writeOK(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}
