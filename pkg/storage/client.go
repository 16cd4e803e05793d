// Package storage uploads local files to the object-storage endpoint and
// returns their public URLs.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/apperrors"
	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/logging"
)

// DefaultTimeout bounds a single upload.
const DefaultTimeout = 10 * time.Minute

// File is one local blob to upload.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Uploader turns a file into a fetchable URL.
type Uploader interface {
	Upload(ctx context.Context, sess *auth.SessionContext, file File) (string, error)
}

// Config configures the storage client.
type Config struct {
	UploadURL string
	// MaxBytes rejects larger files before any request is made. Zero disables the check.
	MaxBytes int64
	Timeout  time.Duration
}

// Client posts multipart uploads. It holds no per-upload state, so one
// Client may serve concurrent uploads.
type Client struct {
	uploadURL  string
	maxBytes   int64
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a storage client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		uploadURL:  cfg.UploadURL,
		maxBytes:   cfg.MaxBytes,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("storage"),
	}
}

type uploadResponse struct {
	Success bool     `json:"success"`
	URLs    []string `json:"urls"`
	Error   string   `json:"error,omitempty"`
}

// Upload sends file to the storage endpoint. Any failure wraps
// apperrors.ErrUploadFailed; unreachable endpoints also wrap a TransportError.
func (c *Client) Upload(ctx context.Context, sess *auth.SessionContext, file File) (string, error) {
	if file.Name == "" {
		return "", apperrors.NewValidationError("file", "name is required")
	}
	if c.maxBytes > 0 && file.Size > c.maxBytes {
		return "", apperrors.NewValidationError("file",
			fmt.Sprintf("%s is %d bytes, limit is %d", file.Name, file.Size, c.maxBytes))
	}

	body, contentType, err := encodeMultipart(file)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", apperrors.ErrUploadFailed, file.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", apperrors.ErrUploadFailed, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if h := sess.AuthorizationHeader(); h != "" {
		req.Header.Set("Authorization", h)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Upload endpoint unreachable",
			zap.String("file", file.Name),
			zap.String("error", logging.SanitizeError(err)))
		return "", fmt.Errorf("%w: %w", apperrors.ErrUploadFailed, &apperrors.TransportError{Op: "upload", Err: err})
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperrors.ErrUploadFailed,
			&apperrors.TransportError{Op: "upload", Err: fmt.Errorf("failed to read response: %w", err)})
	}

	var parsed uploadResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%w: %s: status %d, unreadable response", apperrors.ErrUploadFailed, file.Name, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || !parsed.Success || len(parsed.URLs) == 0 {
		reason := parsed.Error
		if reason == "" {
			reason = "storage reported success=false"
		}
		c.logger.Warn("Upload rejected",
			zap.String("file", file.Name),
			zap.Int("status", resp.StatusCode),
			zap.String("reason", reason))
		return "", fmt.Errorf("%w: %s: %s", apperrors.ErrUploadFailed, file.Name, reason)
	}

	c.logger.Info("File uploaded",
		zap.String("file", file.Name),
		zap.Int64("size", file.Size),
		zap.String("url", logging.SanitizeURL(parsed.URLs[0])),
		zap.Duration("elapsed", time.Since(start)))

	return parsed.URLs[0], nil
}

// encodeMultipart builds a multipart body with the file under "file".
func encodeMultipart(file File) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Name))
	ct := file.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	header.Set("Content-Type", ct)

	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if file.Body != nil {
		if _, err := io.Copy(part, file.Body); err != nil {
			return nil, "", fmt.Errorf("failed to read file: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

var _ Uploader = (*Client)(nil)
