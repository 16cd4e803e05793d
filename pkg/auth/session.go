package auth

import (
	"context"
	"errors"
)

// ErrNoSession is returned when a request carries no authenticated session.
var ErrNoSession = errors.New("no authenticated session")

// SessionContext is the caller's credential, passed explicitly to every
// backend and storage call.
type SessionContext struct {
	Token  string
	Claims *Claims
}

// NewSessionContext builds a session from a raw token and its parsed claims.
func NewSessionContext(token string, claims *Claims) *SessionContext {
	return &SessionContext{Token: token, Claims: claims}
}

// UserID returns the subject of the credential.
func (s *SessionContext) UserID() string {
	if s == nil || s.Claims == nil {
		return ""
	}
	return s.Claims.Subject
}

// AuthorizationHeader returns the value for the Authorization header, or
// empty if there is no token.
func (s *SessionContext) AuthorizationHeader() string {
	if s == nil || s.Token == "" {
		return ""
	}
	return "Bearer " + s.Token
}

// SessionFromContext assembles the SessionContext stored by the middleware.
func SessionFromContext(ctx context.Context) (*SessionContext, error) {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return nil, ErrNoSession
	}
	token, ok := GetToken(ctx)
	if !ok || token == "" {
		return nil, ErrNoSession
	}
	return NewSessionContext(token, claims), nil
}

// WithSession stores the session's claims and token in ctx.
func WithSession(ctx context.Context, s *SessionContext) context.Context {
	ctx = context.WithValue(ctx, ClaimsKey, s.Claims)
	return context.WithValue(ctx, TokenKey, s.Token)
}
