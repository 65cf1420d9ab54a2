package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/signportal/pkg/auth"
	"github.com/ekaya-inc/signportal/pkg/models"
	"github.com/ekaya-inc/signportal/pkg/services"
)

// CreateUserRequest is the request body for creating a user.
type CreateUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

// UsersHandler handles user-related HTTP requests.
type UsersHandler struct {
	userService services.UserService
	logger      *zap.Logger
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(userService services.UserService, logger *zap.Logger) *UsersHandler {
	return &UsersHandler{
		userService: userService,
		logger:      logger,
	}
}

// RegisterRoutes registers the users handler's routes on the given mux.
func (h *UsersHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope Scope) {
	// GET /users - list users, optionally by role (any authenticated user picks assignees from it)
	mux.HandleFunc("GET /users", authMiddleware.RequireAuth(scope(h.List)))

	// POST /users - create user (admin only)
	mux.HandleFunc("POST /users",
		authMiddleware.RequireRole(models.RoleAdmin)(
			scope(h.Create)))
}

// List handles GET /users
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	role := models.Role(r.URL.Query().Get("role"))

	users, err := h.userService.List(r.Context(), role)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	if users == nil {
		users = []*models.User{}
	}

	writeData(w, http.StatusOK, users, h.logger)
}

// Create handles POST /users
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.PrincipalFromContext(r.Context())
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", h.logger)
		return
	}

	user, err := h.userService.Create(r.Context(), services.CreateUserRequest{
		Email:    req.Email,
		Name:     req.Name,
		Role:     models.Role(req.Role),
		Password: req.Password,
	}, actor)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	writeData(w, http.StatusCreated, user, h.logger)
}
