package backend

import (
	"context"

	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/models"
)

// DigestSource asks the backend to digest one source into a content
// artifact of the given corpus. The artifact is returned as decoded; callers
// validate it.
func (c *Client) DigestSource(ctx context.Context, sess *auth.SessionContext, sourceURL, assistantID string, tag models.CorpusTag) (*models.ContentArtifact, error) {
	var resp digestResponse
	req := digestRequest{Source: sourceURL, AssistantID: assistantID, CorpusTag: tag}
	if err := c.post(ctx, sess, "digest_content", req, &resp, "digest_content"); err != nil {
		return nil, err
	}
	return resp.Content, nil
}

// DeleteContent deletes an artifact from the given corpus.
func (c *Client) DeleteContent(ctx context.Context, sess *auth.SessionContext, assistantID, artifactID string, tag models.CorpusTag) (string, error) {
	var resp messageResponse
	req := deleteContentRequest{AssistantID: assistantID, ContentID: artifactID, CorpusTag: tag}
	if err := c.post(ctx, sess, "delete_content", req, &resp, "delete_content"); err != nil {
		return "", err
	}
	return resp.Message, nil
}
