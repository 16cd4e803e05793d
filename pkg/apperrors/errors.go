package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("forbidden")
	ErrBatchInProgress = errors.New("digestion batch already in progress")
	ErrStaleSession    = errors.New("session is no longer active")
	ErrUploadFailed    = errors.New("upload failed")
	ErrMalformed       = errors.New("malformed content artifact")
)

// TransportError means the remote endpoint could not be reached or its
// response could not be read.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable lets retry.IsRetryable treat unreachable endpoints as transient.
func (e *TransportError) IsRetryable() bool {
	return true
}

// BackendError is a well-formed error reported by the backend, either as a
// non-2xx status or as an {"error": "..."} payload.
type BackendError struct {
	Op      string
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: backend returned status %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: backend error: %s", e.Op, e.Message)
}

// Is maps backend 404s onto ErrNotFound so callers can use errors.Is.
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == 404
	case ErrForbidden:
		return e.Status == 401 || e.Status == 403
	}
	return false
}

// IsRetryable reports whether the status indicates a transient backend condition.
func (e *BackendError) IsRetryable() bool {
	switch e.Status {
	case 429, 502, 503, 504:
		return true
	}
	return false
}

// ValidationError is returned for rejected input before any remote call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsBackend reports whether err is (or wraps) a BackendError.
func IsBackend(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
