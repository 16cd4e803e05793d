package backend

import (
	"context"

	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/models"
)

// SendChat posts one chat turn. Chat sends are not retried.
func (c *Client) SendChat(ctx context.Context, sess *auth.SessionContext, req ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.post(ctx, sess, "chat", req, &resp, "chat"); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetConversation loads the full history of a conversation and the
// references of its latest exchange.
func (c *Client) GetConversation(ctx context.Context, sess *auth.SessionContext, conversationID string) (*models.Conversation, error) {
	var resp conversationResponse
	if err := c.get(ctx, sess, "get_conversation", &resp, "get_conversation", conversationID); err != nil {
		return nil, err
	}
	id := resp.ID.String()
	if id == "" {
		id = conversationID
	}
	return &models.Conversation{
		ID:         id,
		Title:      resp.Title,
		Messages:   resp.Messages,
		References: resp.References,
	}, nil
}

// ListConversations lists the caller's previous conversations with an assistant.
func (c *Client) ListConversations(ctx context.Context, sess *auth.SessionContext, assistantID string) ([]models.ConversationSummary, error) {
	var resp conversationsEnvelope
	if err := c.get(ctx, sess, "get_conversations", &resp, "get_conversations", assistantID); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}
