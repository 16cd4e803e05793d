package auth

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/models"
)

// Middleware provides HTTP authentication middleware.
// It is thin and delegates authentication logic to AuthService.
type Middleware struct {
	authService AuthService
	logger      *zap.Logger
}

// NewMiddleware creates a new auth middleware with the given AuthService.
func NewMiddleware(authService AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		logger:      logger,
	}
}

// RequireAuth validates the credential and stores claims and token in the
// request context for SessionFromContext.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, token, err := m.authService.ValidateRequest(r)
		if err != nil {
			m.unauthorized(w, "Authentication required")
			return
		}

		ctx := WithSession(r.Context(), NewSessionContext(token, claims))
		next(w, r.WithContext(ctx))
	}
}

// RequireRole validates the credential and requires one of roles.
func (m *Middleware) RequireRole(roles ...models.AccountRole) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, token, err := m.authService.ValidateRequest(r)
			if err != nil {
				m.unauthorized(w, "Authentication required")
				return
			}

			if err := m.authService.RequireRole(claims, roles...); err != nil {
				m.forbidden(w, "This operation is not available for your role")
				return
			}

			ctx := WithSession(r.Context(), NewSessionContext(token, claims))
			next(w, r.WithContext(ctx))
		}
	}
}

// RequireTeacher is RequireRole(models.AccountTeacher).
func (m *Middleware) RequireTeacher(next http.HandlerFunc) http.HandlerFunc {
	return m.RequireRole(models.AccountTeacher)(next)
}

// RequireStudent is RequireRole(models.AccountStudent).
func (m *Middleware) RequireStudent(next http.HandlerFunc) http.HandlerFunc {
	return m.RequireRole(models.AccountStudent)(next)
}

func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, "unauthorized", message)
}

func (m *Middleware) forbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, "forbidden", message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
