// Package auth handles the bearer credential issued by the platform's
// identity provider. Issuance is external; this package only reads and
// optionally verifies it, then hands an explicit SessionContext to callers.
package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/brahmalabs/baman-engine/pkg/models"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
)

var (
	ErrMissingSubject = errors.New("missing subject in token")
	ErrInvalidRole    = errors.New("token carries no valid role")
)

// Claims represents the credential's claims. The subject is the teacher or
// student identifier used by the backend.
type Claims struct {
	jwt.RegisteredClaims
	Role  models.AccountRole `json:"role,omitempty"`
	Email string             `json:"email,omitempty"`
	Name  string             `json:"name,omitempty"`
}

// Validate checks the claims this service relies on.
func (c *Claims) Validate() error {
	if c.Subject == "" {
		return ErrMissingSubject
	}
	if !models.IsValidAccountRole(string(c.Role)) {
		return ErrInvalidRole
	}
	return nil
}

// IsTeacher reports whether the credential belongs to a teacher.
func (c *Claims) IsTeacher() bool {
	return c.Role == models.AccountTeacher
}

// IsStudent reports whether the credential belongs to a student.
func (c *Claims) IsStudent() bool {
	return c.Role == models.AccountStudent
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken retrieves the raw JWT token string from the request context.
// Returns empty string and false if token is not present.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}
