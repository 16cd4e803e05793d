package retry_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/brahmalabs/baman-engine/pkg/apperrors"
	"github.com/brahmalabs/baman-engine/pkg/retry"
)

// TestIsRetryable_WithAppErrors verifies that retry.IsRetryable recognises the
// transport/backend taxonomy through wrapping.
func TestIsRetryable_WithAppErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"transport", &apperrors.TransportError{Op: "get_assistant", Err: errors.New("eof")}, true},
		{"wrapped transport", fmt.Errorf("load: %w", &apperrors.TransportError{Op: "x", Err: errors.New("eof")}), true},
		{"backend 503", &apperrors.BackendError{Op: "get_assistant", Status: 503, Message: "busy"}, true},
		{"backend 404", &apperrors.BackendError{Op: "get_assistant", Status: 404, Message: "missing"}, false},
		{"backend payload error", &apperrors.BackendError{Op: "chat", Message: "Assistant not found"}, false},
		{"validation", apperrors.NewValidationError("student_id", "required"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retry.IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}
