package auth

import (
	"encoding/json"
	"net/http"
	"slices"

	"go.uber.org/zap"

	"github.com/ekaya-inc/signportal/pkg/audit"
	"github.com/ekaya-inc/signportal/pkg/models"
)

// Middleware provides HTTP authentication middleware.
// It is thin and delegates authentication logic to AuthService.
type Middleware struct {
	authService AuthService
	auditor     *audit.SecurityAuditor
	logger      *zap.Logger
}

// NewMiddleware creates a new auth middleware with the given AuthService.
// auditor may be nil.
func NewMiddleware(authService AuthService, auditor *audit.SecurityAuditor, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		auditor:     auditor,
		logger:      logger,
	}
}

// RequireAuth validates the JWT and requires it to resolve to a user id and
// a known role. Claims and token are stored in the request context.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, token, err := m.authService.ValidateRequest(r)
		if err != nil {
			m.unauthorized(w, "Authentication required")
			return
		}

		if _, err := PrincipalFromClaims(claims); err != nil {
			m.logger.Debug("Token does not resolve to a user",
				zap.String("subject", claims.Subject),
				zap.String("role", claims.Role),
				zap.Error(err))
			m.unauthorized(w, "Token does not identify a user")
			return
		}

		next(w, r.WithContext(WithClaims(r.Context(), claims, token)))
	}
}

// RequireRole is RequireAuth plus a check that the caller holds one of roles.
func (m *Middleware) RequireRole(roles ...models.Role) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
			principal, err := PrincipalFromContext(r.Context())
			if err != nil {
				m.unauthorized(w, "Authentication required")
				return
			}

			if !slices.Contains(roles, principal.Role) {
				m.logger.Warn("Role not permitted for endpoint",
					zap.String("user_id", principal.ID.String()),
					zap.String("role", string(principal.Role)),
					zap.String("path", r.URL.Path))
				if m.auditor != nil {
					m.auditor.LogAccessDenied(r.Context(), principal.ID, audit.AccessDeniedDetails{
						Action:   r.Method,
						Resource: r.URL.Path,
						Reason:   "role " + string(principal.Role) + " not permitted",
					})
				}
				m.forbidden(w, "Insufficient permissions")
				return
			}

			next(w, r)
		})
	}
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	writeAuthError(w, http.StatusUnauthorized, "unauthorized", message)
}

// forbidden returns a 403 response with JSON error body.
func (m *Middleware) forbidden(w http.ResponseWriter, message string) {
	writeAuthError(w, http.StatusForbidden, "forbidden", message)
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
