package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ekaya-inc/signportal/pkg/auth"
	"github.com/ekaya-inc/signportal/pkg/models"
	"github.com/ekaya-inc/signportal/pkg/services"
)

// Scope attaches per-request infrastructure (a pooled database connection)
// to the request context before the handler runs.
type Scope func(http.HandlerFunc) http.HandlerFunc

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

// DocumentsHandler handles document registration, listing and download.
type DocumentsHandler struct {
	documentService services.DocumentService
	versionService  services.VersionService
	maxUploadBytes  int64
	logger          *zap.Logger
}

// NewDocumentsHandler creates a new documents handler.
func NewDocumentsHandler(documentService services.DocumentService, versionService services.VersionService, maxUploadBytes int64, logger *zap.Logger) *DocumentsHandler {
	return &DocumentsHandler{
		documentService: documentService,
		versionService:  versionService,
		maxUploadBytes:  maxUploadBytes,
		logger:          logger,
	}
}

// RegisterRoutes registers the documents handler's routes on the given mux.
func (h *DocumentsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope Scope) {
	mux.HandleFunc("POST /documents", authMiddleware.RequireAuth(scope(h.Create)))
	mux.HandleFunc("GET /documents", authMiddleware.RequireAuth(scope(h.List)))
	mux.HandleFunc("GET /documents/{id}", authMiddleware.RequireAuth(scope(h.Get)))
	mux.HandleFunc("GET /documents/{id}/download", authMiddleware.RequireAuth(scope(h.Download)))
}

// Create handles POST /documents
// Multipart body: file plus the document metadata fields.
func (h *DocumentsHandler) Create(w http.ResponseWriter, r *http.Request) {
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

	meta := models.DocumentMetadata{
		Title:               r.FormValue("document_title"),
		Purpose:             r.FormValue("purpose"),
		OfficeUnit:          r.FormValue("office_unit"),
		CaseReferenceNumber: r.FormValue("case_reference_number"),
		ClassificationLevel: r.FormValue("classification_level"),
		Priority:            r.FormValue("priority"),
		Notes:               r.FormValue("notes"),
		DocumentType:        r.FormValue("document_type"),
	}

	detail, err := h.documentService.CreateDocument(r.Context(), meta, form.upload, principal)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	writeData(w, http.StatusCreated, detail, h.logger)
}

// List handles GET /documents
// Query: status, search, classification_level, priority, limit, offset.
func (h *DocumentsHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.PrincipalFromContext(r.Context())
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	filter, err := parseDocumentFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error(), h.logger)
		return
	}

	docs, err := h.documentService.ListDocuments(r.Context(), principal, filter)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}

	writeData(w, http.StatusOK, docs, h.logger)
}

// Get handles GET /documents/{id}
func (h *DocumentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	documentID, ok := ParseDocumentID(w, r, h.logger)
	if !ok {
		return
	}
	principal, err := auth.PrincipalFromContext(r.Context())
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	detail, err := h.documentService.GetDocument(r.Context(), documentID, principal)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, detail, h.logger)
}

// Download handles GET /documents/{id}/download
// Streams the current version's file.
func (h *DocumentsHandler) Download(w http.ResponseWriter, r *http.Request) {
	documentID, ok := ParseDocumentID(w, r, h.logger)
	if !ok {
		return
	}
	principal, err := auth.PrincipalFromContext(r.Context())
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	version, body, err := h.versionService.OpenVersionContent(r.Context(), documentID, principal)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	defer body.Close()

	streamVersion(w, version, body, h.logger)
}

// streamVersion writes a version's file as an attachment.
func streamVersion(w http.ResponseWriter, version *models.DocumentVersion, body io.Reader, logger *zap.Logger) {
	w.Header().Set("Content-Type", version.ContentType)
	w.Header().Set("Content-Disposition", contentDisposition(version.FileName))
	w.Header().Set("X-Version-Number", strconv.Itoa(version.VersionNumber))
	if version.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(version.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		logger.Warn("Download interrupted",
			zap.String("document_id", version.DocumentID.String()),
			zap.String("version_id", version.ID.String()),
			zap.Error(err))
	}
}

// contentDisposition encodes fileName per RFC 6266, using the RFC 2231 form
// for names outside plain ASCII.
func contentDisposition(fileName string) string {
	if fileName == "" {
		return "attachment"
	}
	if value := mime.FormatMediaType("attachment", map[string]string{"filename": fileName}); value != "" {
		return value
	}
	return "attachment"
}

func parseDocumentFilter(r *http.Request) (models.DocumentFilter, error) {
	q := r.URL.Query()
	filter := models.DocumentFilter{
		Status: models.DocumentStatus(q.Get("status")),
		Search: q.Get("search"),
	}

	if raw := q.Get("classification_level"); raw != "" {
		level, ok := models.ParseClassificationLevel(raw)
		if !ok {
			level = models.ClassificationLevel(raw)
		}
		filter.ClassificationLevel = level
	}
	if raw := q.Get("priority"); raw != "" {
		priority, ok := models.ParsePriority(raw)
		if !ok {
			priority = models.Priority(raw)
		}
		filter.Priority = priority
	}

	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		return filter, fmt.Errorf("limit must be an integer")
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		return filter, fmt.Errorf("offset must be an integer")
	}
	return filter, nil
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// uploadForm is a parsed multipart body with its "file" part.
type uploadForm struct {
	r      *http.Request
	file   multipart.File
	upload *models.FileUpload
}

func (f *uploadForm) close() {
	if f.file != nil {
		_ = f.file.Close()
	}
	if f.r.MultipartForm != nil {
		_ = f.r.MultipartForm.RemoveAll()
	}
}

// readMultipart parses a size-capped multipart body. A missing file part is
// not an error here; the services report it as a validation failure.
func readMultipart(w http.ResponseWriter, r *http.Request, maxBytes int64, logger *zap.Logger) (*uploadForm, bool) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large",
				fmt.Sprintf("Upload exceeds the %d byte limit", tooLarge.Limit), logger)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "Expected a multipart/form-data body", logger)
		return nil, false
	}

	form := &uploadForm{r: r}
	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		form.file = file
		form.upload = &models.FileUpload{
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Content:     file,
		}
	case errors.Is(err, http.ErrMissingFile):
	default:
		form.close()
		writeError(w, http.StatusBadRequest, "invalid_request", "Could not read uploaded file", logger)
		return nil, false
	}
	return form, true
}
