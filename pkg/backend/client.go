package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/apperrors"
	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/logging"
	"github.com/brahmalabs/baman-engine/pkg/retry"
)

// DefaultTimeout bounds a single backend call. Digestion of large media can
// take a while, so this is generous.
const DefaultTimeout = 120 * time.Second

// maxErrorBodyLength caps how much of an unparseable error body is kept.
const maxErrorBodyLength = 512

// Config configures the backend client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// ReadRetry applies to idempotent GETs only. Nil uses retry.DefaultConfig.
	ReadRetry *retry.Config
}

// Client talks to the tutoring backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	readRetry  *retry.Config
	logger     *zap.Logger
}

// NewClient creates a backend client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	readRetry := cfg.ReadRetry
	if readRetry == nil {
		readRetry = retry.DefaultConfig()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		readRetry:  readRetry,
		logger:     logger.Named("backend"),
	}
}

// WithHTTPClient replaces the underlying HTTP client (used by tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// get performs an idempotent read, retrying transient failures.
func (c *Client) get(ctx context.Context, sess *auth.SessionContext, op string, out any, pathSegments ...string) error {
	return retry.DoIfRetryable(ctx, c.readRetry, func() error {
		return c.do(ctx, sess, op, http.MethodGet, nil, out, pathSegments...)
	})
}

// post performs a mutation. Mutations are never retried.
func (c *Client) post(ctx context.Context, sess *auth.SessionContext, op string, body, out any, pathSegments ...string) error {
	return c.do(ctx, sess, op, http.MethodPost, body, out, pathSegments...)
}

// do executes one request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, sess *auth.SessionContext, op, method string, body, out any, pathSegments ...string) (err error) {
	ctx, span := startSpan(ctx, op, method)
	defer func() { span.end(err) }()

	endpoint, err := buildURL(c.baseURL, pathSegments...)
	if err != nil {
		return fmt.Errorf("%s: failed to build URL: %w", op, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h := sess.AuthorizationHeader(); h != "" {
		req.Header.Set("Authorization", h)
	}

	c.logger.Debug("Calling backend",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("url", logging.SanitizeURL(endpoint)))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		return &apperrors.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apperrors.TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	span.status(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorMessage(data)
		c.logger.Warn("Backend returned error",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg),
			zap.Duration("elapsed", time.Since(start)))
		return &apperrors.BackendError{Op: op, Status: resp.StatusCode, Message: msg}
	}

	// A 2xx with {"error": "..."} is still a failure.
	var envelope struct {
		Error *string `json:"error"`
	}
	if len(data) > 0 && json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
		c.logger.Warn("Backend reported error payload",
			zap.String("op", op),
			zap.String("message", *envelope.Error))
		return &apperrors.BackendError{Op: op, Status: 0, Message: *envelope.Error}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &apperrors.TransportError{Op: op, Err: fmt.Errorf("failed to parse response: %w", err)}
		}
	}

	c.logger.Debug("Backend call succeeded",
		zap.String("op", op),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// errorMessage extracts {"error": "..."} from an error body, falling back
// to the (truncated) raw body.
func errorMessage(data []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return logging.TruncateString(string(bytes.TrimSpace(data)), maxErrorBodyLength)
}

// buildURL constructs a URL by parsing the base and joining path segments.
// Each segment is escaped, so identifiers cannot change the route.
func buildURL(baseURL string, pathSegments ...string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base URL %q", baseURL)
	}

	escaped := make([]string, len(pathSegments))
	for i, s := range pathSegments {
		escaped[i] = url.PathEscape(s)
	}
	return u.JoinPath(escaped...).String(), nil
}

var _ API = (*Client)(nil)
