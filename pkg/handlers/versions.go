package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/signportal/pkg/auth"
	"github.com/ekaya-inc/signportal/pkg/models"
	"github.com/ekaya-inc/signportal/pkg/services"
)

// VersionsHandler handles the version history of a document.
type VersionsHandler struct {
	versionService services.VersionService
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewVersionsHandler creates a new versions handler.
func NewVersionsHandler(versionService services.VersionService, maxUploadBytes int64, logger *zap.Logger) *VersionsHandler {
	return &VersionsHandler{
		versionService: versionService,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes registers the versions handler's routes on the given mux.
func (h *VersionsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope Scope) {
	mux.HandleFunc("GET /documents/{id}/versions", authMiddleware.RequireAuth(scope(h.List)))
	mux.HandleFunc("GET /documents/{id}/versions/current", authMiddleware.RequireAuth(scope(h.Current)))
	mux.HandleFunc("POST /documents/{id}/versions", authMiddleware.RequireAuth(scope(h.Upload)))
	mux.HandleFunc("GET /workflow/stage/{id}/download", authMiddleware.RequireAuth(scope(h.DownloadForStage)))
}

// List handles GET /documents/{id}/versions
func (h *VersionsHandler) List(w http.ResponseWriter, r *http.Request) {
	documentID, ok := ParseDocumentID(w, r, h.logger)
	if !ok {
		return
	}
	principal, err := auth.PrincipalFromContext(r.Context())
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	versions, err := h.versionService.ListVersions(r.Context(), documentID, principal)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	if versions == nil {
		versions = []*models.DocumentVersion{}
	}

	writeData(w, http.StatusOK, versions, h.logger)
}

// Current handles GET /documents/{id}/versions/current
func (h *VersionsHandler) Current(w http.ResponseWriter, r *http.Request) {
	documentID, ok := ParseDocumentID(w, r, h.logger)
	if !ok {
		return
	}
	principal, err := auth.PrincipalFromContext(r.Context())
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	version, err := h.versionService.GetCurrentVersion(r.Context(), documentID, principal)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, version, h.logger)
}

// Upload handles POST /documents/{id}/versions
// Multipart body: file, optional workflow_stage_id and upload_reason.
// Linking a stage the caller is assigned to completes that stage.
func (h *VersionsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	documentID, ok := ParseDocumentID(w, r, h.logger)
	if !ok {
		return
	}
	principal, err := auth.PrincipalFromContext(r.Context())
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	form, ok := readMultipart(w, r, h.maxUploadBytes, h.logger)
	if !ok {
		return
	}
	defer form.close()

	stageID, err := parseOptionalUUID(r.FormValue("workflow_stage_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_stage_id", "Invalid stage ID format", h.logger)
		return
	}

	version, err := h.versionService.AddVersion(r.Context(), documentID, form.upload, r.FormValue("upload_reason"), stageID, principal)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	writeData(w, http.StatusCreated, version, h.logger)
}

// DownloadForStage handles GET /workflow/stage/{id}/download
// Streams the document's current version to the stage assignee.
func (h *VersionsHandler) DownloadForStage(w http.ResponseWriter, r *http.Request) {
	stageID, ok := ParseStageID(w, r, h.logger)
	if !ok {
		return
	}
	principal, err := auth.PrincipalFromContext(r.Context())
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	version, body, err := h.versionService.OpenStageContent(r.Context(), stageID, principal)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	defer body.Close()

	streamVersion(w, version, body, h.logger)
}
