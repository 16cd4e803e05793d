package backend

import (
	"context"
	"fmt"

	"github.com/brahmalabs/baman-engine/pkg/apperrors"
	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/models"
)

// GetAssistant fetches an assistant with both corpora populated.
func (c *Client) GetAssistant(ctx context.Context, sess *auth.SessionContext, assistantID string) (*models.Assistant, error) {
	var resp assistantEnvelope
	if err := c.get(ctx, sess, "get_assistant", &resp, "get_assistant", assistantID); err != nil {
		return nil, err
	}
	if resp.Assistant == nil {
		return nil, &apperrors.BackendError{Op: "get_assistant", Message: "response has no assistant"}
	}
	return resp.Assistant, nil
}

// ListAssistants lists the calling teacher's assistants.
func (c *Client) ListAssistants(ctx context.Context, sess *auth.SessionContext) ([]models.AssistantSummary, error) {
	var resp assistantsEnvelope
	if err := c.get(ctx, sess, "get_assistants", &resp, "get_assistants"); err != nil {
		return nil, err
	}
	return resp.Assistants, nil
}

// ListStudentAssistants lists the assistants the calling student may use.
func (c *Client) ListStudentAssistants(ctx context.Context, sess *auth.SessionContext) ([]models.AssistantSummary, error) {
	var resp assistantsEnvelope
	if err := c.get(ctx, sess, "get_student_assistants", &resp, "get_student_assistants"); err != nil {
		return nil, err
	}
	return resp.Assistants, nil
}

// CreateAssistant creates an assistant and returns its identifier.
func (c *Client) CreateAssistant(ctx context.Context, sess *auth.SessionContext, meta models.AssistantMetadata) (string, error) {
	var resp createAssistantResponse
	if err := c.post(ctx, sess, "create_assistant", meta, &resp, "create_assistant"); err != nil {
		return "", err
	}
	if resp.AssistantID == "" {
		return "", &apperrors.BackendError{Op: "create_assistant", Message: "response has no assistant_id"}
	}
	return resp.AssistantID.String(), nil
}

// UpdateAssistant applies patch on the backend. The returned assistant is
// nil when the backend only acknowledged the change.
func (c *Client) UpdateAssistant(ctx context.Context, sess *auth.SessionContext, assistantID string, patch models.AssistantPatch) (*models.Assistant, error) {
	var resp assistantEnvelope
	if err := c.post(ctx, sess, "update_assistant", patch, &resp, "update_assistant", assistantID); err != nil {
		return nil, err
	}
	return resp.Assistant, nil
}

// AddStudent grants a student access to an assistant.
func (c *Client) AddStudent(ctx context.Context, sess *auth.SessionContext, assistantID, studentID string) (string, error) {
	return c.membership(ctx, sess, "add_student", assistantID, studentID)
}

// RemoveStudent revokes a student's access to an assistant.
func (c *Client) RemoveStudent(ctx context.Context, sess *auth.SessionContext, assistantID, studentID string) (string, error) {
	return c.membership(ctx, sess, "remove_student", assistantID, studentID)
}

func (c *Client) membership(ctx context.Context, sess *auth.SessionContext, op, assistantID, studentID string) (string, error) {
	var resp messageResponse
	req := membershipRequest{AssistantID: assistantID, StudentID: studentID}
	if err := c.post(ctx, sess, op, req, &resp, op); err != nil {
		return "", fmt.Errorf("%s %s: %w", op, studentID, err)
	}
	return resp.Message, nil
}
