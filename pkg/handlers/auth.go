package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/signportal/pkg/apperrors"
	"github.com/ekaya-inc/signportal/pkg/auth"
	"github.com/ekaya-inc/signportal/pkg/models"
	"github.com/ekaya-inc/signportal/pkg/services"
)

// TokenIssuer signs access tokens for authenticated users.
type TokenIssuer interface {
	Issue(user *models.User) (string, time.Time, error)
}

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"token_type"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// AuthHandler handles login, logout and the current-user endpoint.
type AuthHandler struct {
	userService services.UserService
	issuer      TokenIssuer
	sessions    *auth.SessionStore
	logger      *zap.Logger
}

// NewAuthHandler creates a new auth handler. sessions may be nil, in which
// case login only returns the bearer token.
func NewAuthHandler(userService services.UserService, issuer TokenIssuer, sessions *auth.SessionStore, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		issuer:      issuer,
		sessions:    sessions,
		logger:      logger,
	}
}

// RegisterRoutes registers the auth handler's routes on the given mux.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope Scope) {
	mux.HandleFunc("POST /auth/login", scope(h.Login))
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("GET /auth/me", authMiddleware.RequireAuth(scope(h.Me)))
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", h.logger)
		return
	}

	user, err := h.userService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	token, expiresAt, err := h.issuer.Issue(user)
	if err != nil {
		h.logger.Error("Failed to issue token", zap.String("user_id", user.ID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to issue token", h.logger)
		return
	}

	if h.sessions != nil {
		if err := h.sessions.Save(w, r, token); err != nil {
			h.logger.Error("Failed to save session", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to start session", h.logger)
			return
		}
	}

	writeData(w, http.StatusOK, LoginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
		User:      user,
	}, h.logger)
}

// Logout handles POST /auth/logout
// Clearing the cookie is idempotent; bearer tokens simply expire.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.sessions != nil {
		if err := h.sessions.Clear(w, r); err != nil {
			h.logger.Warn("Failed to clear session", zap.Error(err))
		}
	}
	writeData(w, http.StatusOK, map[string]bool{"logged_out": true}, h.logger)
}

// Me handles GET /auth/me
// Returns the stored user, or the token's identity for users known only to an external issuer.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.PrincipalFromContext(r.Context())
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	user, err := h.userService.Get(r.Context(), principal.ID)
	if errors.Is(err, apperrors.ErrNotFound) {
		writeData(w, http.StatusOK, principal, h.logger)
		return
	}
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, user, h.logger)
}
