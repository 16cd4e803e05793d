package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/models"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
	ErrRoleNotAllowed       = errors.New("role not allowed for this operation")
)

// DefaultCookieName is used when no cookie name is configured.
const DefaultCookieName = "baman_jwt"

// AuthService extracts and validates the bearer credential of a request.
type AuthService interface {
	// ValidateRequest looks for the token in the session cookie first,
	// then in an "Authorization: Bearer" header.
	ValidateRequest(r *http.Request) (*Claims, string, error)

	// RequireRole returns ErrRoleNotAllowed unless claims carry one of roles.
	RequireRole(claims *Claims, roles ...models.AccountRole) error
}

type authService struct {
	validator  TokenValidator
	cookieName string
	logger     *zap.Logger
}

// NewAuthService creates an AuthService reading tokens from cookieName or
// the Authorization header.
func NewAuthService(validator TokenValidator, cookieName string, logger *zap.Logger) AuthService {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &authService{
		validator:  validator,
		cookieName: cookieName,
		logger:     logger,
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	var tokenString string
	var tokenSource string

	if cookie, err := r.Cookie(s.cookieName); err == nil && cookie.Value != "" {
		tokenString = cookie.Value
		tokenSource = "cookie"
	} else {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.logger.Debug("No credential found in request",
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method))
			return nil, "", ErrMissingAuthorization
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			s.logger.Debug("Invalid Authorization header format",
				zap.String("path", r.URL.Path))
			return nil, "", ErrInvalidAuthFormat
		}
		tokenString = token
		tokenSource = "header"
	}

	claims, err := s.validator.ValidateToken(tokenString)
	if err != nil {
		s.logger.Debug("Credential validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("token_source", tokenSource))
		return nil, "", err
	}

	return claims, tokenString, nil
}

func (s *authService) RequireRole(claims *Claims, roles ...models.AccountRole) error {
	for _, role := range roles {
		if claims.Role == role {
			return nil
		}
	}
	s.logger.Warn("Role not allowed",
		zap.String("subject", claims.Subject),
		zap.String("role", string(claims.Role)))
	return ErrRoleNotAllowed
}

var _ AuthService = (*authService)(nil)
