package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/signportal/pkg/auth"
	"github.com/ekaya-inc/signportal/pkg/models"
	"github.com/ekaya-inc/signportal/pkg/services"
)

// AssignStageRequest is the request body for assigning a workflow stage.
type AssignStageRequest struct {
	UserID string `json:"userId"`
}

// WorkflowHandler handles workflow inspection and stage assignment.
type WorkflowHandler struct {
	workflowService services.WorkflowService
	logger          *zap.Logger
}

// NewWorkflowHandler creates a new workflow handler.
func NewWorkflowHandler(workflowService services.WorkflowService, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		workflowService: workflowService,
		logger:          logger,
	}
}

// RegisterRoutes registers the workflow handler's routes on the given mux.
func (h *WorkflowHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope Scope) {
	mux.HandleFunc("GET /workflow/document/{id}", authMiddleware.RequireAuth(scope(h.GetWorkflow)))
	mux.HandleFunc("POST /workflow/stage/{id}/assign", authMiddleware.RequireAuth(scope(h.Assign)))
	mux.HandleFunc("GET /workflow/pending", authMiddleware.RequireAuth(scope(h.Pending)))
}

// GetWorkflow handles GET /workflow/document/{id}
func (h *WorkflowHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	documentID, ok := ParseDocumentID(w, r, h.logger)
	if !ok {
		return
	}
	principal, err := auth.PrincipalFromContext(r.Context())
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	stages, err := h.workflowService.GetWorkflow(r.Context(), documentID, principal)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, stages, h.logger)
}

// Assign handles POST /workflow/stage/{id}/assign
func (h *WorkflowHandler) Assign(w http.ResponseWriter, r *http.Request) {
	stageID, ok := ParseStageID(w, r, h.logger)
	if !ok {
		return
	}
	principal, err := auth.PrincipalFromContext(r.Context())
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	var req AssignStageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", h.logger)
		return
	}
	assigneeID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id", "Invalid user ID format", h.logger)
		return
	}

	stage, err := h.workflowService.AssignStage(r.Context(), stageID, assigneeID, principal)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, stage, h.logger)
}

// Pending handles GET /workflow/pending
// Lists stages assigned to the caller that still await their signature.
func (h *WorkflowHandler) Pending(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.PrincipalFromContext(r.Context())
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	pending, err := h.workflowService.ListPendingApprovals(r.Context(), principal.ID)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	if pending == nil {
		pending = []*models.PendingApproval{}
	}

	writeData(w, http.StatusOK, pending, h.logger)
}
