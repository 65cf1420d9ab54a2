package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/signportal/pkg/apperrors"
	"github.com/ekaya-inc/signportal/pkg/auth"
	"github.com/ekaya-inc/signportal/pkg/models"
	"github.com/ekaya-inc/signportal/pkg/services"
)

// mockUserService is a configurable mock for user handler tests.
type mockUserService struct {
	user        *models.User
	users       []*models.User
	err         error
	listedRole  models.Role
	createdReq  services.CreateUserRequest
	createActor *models.User
}

func (m *mockUserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.user, nil
}

func (m *mockUserService) Create(ctx context.Context, req services.CreateUserRequest, actor *models.User) (*models.User, error) {
	m.createdReq = req
	m.createActor = actor
	if m.err != nil {
		return nil, m.err
	}
	return &models.User{ID: uuid.New(), Email: req.Email, Name: req.Name, Role: req.Role}, nil
}

func (m *mockUserService) List(ctx context.Context, role models.Role) ([]*models.User, error) {
	m.listedRole = role
	return m.users, m.err
}

func (m *mockUserService) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.user == nil {
		return nil, apperrors.NotFound("user")
	}
	return m.user, nil
}

func (m *mockUserService) EnsureBootstrapAdmin(ctx context.Context, req services.CreateUserRequest) (*models.User, error) {
	return nil, m.err
}

type mockIssuer struct {
	err error
}

func (m *mockIssuer) Issue(user *models.User) (string, time.Time, error) {
	if m.err != nil {
		return "", time.Time{}, m.err
	}
	return "signed." + user.ID.String(), time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), nil
}

// mockDocumentService records its inputs and returns canned results.
type mockDocumentService struct {
	detail     *models.DocumentDetail
	docs       []*models.Document
	err        error
	gotMeta    models.DocumentMetadata
	gotFile    []byte
	gotName    string
	gotFilter  models.DocumentFilter
	gotOwner   *models.User
	gotFileNil bool
}

func (m *mockDocumentService) CreateDocument(ctx context.Context, meta models.DocumentMetadata, file *models.FileUpload, owner *models.User) (*models.DocumentDetail, error) {
	m.gotMeta = meta
	m.gotOwner = owner
	m.gotFileNil = file == nil
	if file != nil {
		m.gotName = file.FileName
		m.gotFile, _ = io.ReadAll(file.Content)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.detail, nil
}

func (m *mockDocumentService) GetDocument(ctx context.Context, id uuid.UUID, requester *models.User) (*models.DocumentDetail, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.detail, nil
}

func (m *mockDocumentService) ListDocuments(ctx context.Context, requester *models.User, filter models.DocumentFilter) ([]*models.Document, error) {
	m.gotFilter = filter
	return m.docs, m.err
}

// mockVersionService records its inputs and returns canned results.
type mockVersionService struct {
	version   *models.DocumentVersion
	versions  []*models.DocumentVersion
	content   string
	err       error
	gotStage  *uuid.UUID
	gotReason string
	gotFile   []byte
}

func (m *mockVersionService) AddVersion(ctx context.Context, documentID uuid.UUID, file *models.FileUpload, reason string, linkedStageID *uuid.UUID, uploader *models.User) (*models.DocumentVersion, error) {
	m.gotStage = linkedStageID
	m.gotReason = reason
	if file != nil {
		m.gotFile, _ = io.ReadAll(file.Content)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.version, nil
}

func (m *mockVersionService) ListVersions(ctx context.Context, documentID uuid.UUID, requester *models.User) ([]*models.DocumentVersion, error) {
	return m.versions, m.err
}

func (m *mockVersionService) GetCurrentVersion(ctx context.Context, documentID uuid.UUID, requester *models.User) (*models.DocumentVersion, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.version, nil
}

func (m *mockVersionService) OpenVersionContent(ctx context.Context, documentID uuid.UUID, requester *models.User) (*models.DocumentVersion, io.ReadCloser, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.version, io.NopCloser(bytes.NewBufferString(m.content)), nil
}

func (m *mockVersionService) OpenStageContent(ctx context.Context, stageID uuid.UUID, requester *models.User) (*models.DocumentVersion, io.ReadCloser, error) {
	m.gotStage = &stageID
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.version, io.NopCloser(bytes.NewBufferString(m.content)), nil
}

// mockWorkflowService records its inputs and returns canned results.
type mockWorkflowService struct {
	stages      []models.WorkflowStage
	stage       *models.WorkflowStage
	pending     []*models.PendingApproval
	err         error
	gotAssignee uuid.UUID
	gotActor    *models.User
	gotUserID   uuid.UUID
}

func (m *mockWorkflowService) CreateWorkflow(ctx context.Context, doc *models.Document) ([]models.WorkflowStage, error) {
	return m.stages, m.err
}

func (m *mockWorkflowService) GetWorkflow(ctx context.Context, documentID uuid.UUID, requester *models.User) ([]models.WorkflowStage, error) {
	return m.stages, m.err
}

func (m *mockWorkflowService) AssignStage(ctx context.Context, stageID, assigneeID uuid.UUID, actor *models.User) (*models.WorkflowStage, error) {
	m.gotAssignee = assigneeID
	m.gotActor = actor
	if m.err != nil {
		return nil, m.err
	}
	return m.stage, nil
}

func (m *mockWorkflowService) CompleteStage(ctx context.Context, stageID uuid.UUID, version *models.DocumentVersion) (*models.WorkflowStage, error) {
	return m.stage, m.err
}

func (m *mockWorkflowService) ListPendingApprovals(ctx context.Context, userID uuid.UUID) ([]*models.PendingApproval, error) {
	m.gotUserID = userID
	return m.pending, m.err
}

// headerAuthService authenticates any request carrying X-Test-Role as a
// user with that role and the id from X-Test-User.
type headerAuthService struct{}

func (headerAuthService) ValidateRequest(r *http.Request) (*auth.Claims, string, error) {
	role := r.Header.Get("X-Test-Role")
	if role == "" {
		return nil, "", auth.ErrMissingAuthorization
	}
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: r.Header.Get("X-Test-User")},
		Role:             role,
	}
	return claims, "test-token", nil
}

func noScope(next http.HandlerFunc) http.HandlerFunc { return next }

func testMiddleware() *auth.Middleware {
	return auth.NewMiddleware(headerAuthService{}, nil, zap.NewNop())
}

// withPrincipal returns a copy of r authenticated as user.
func withPrincipal(r *http.Request, user *models.User) *http.Request {
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID.String()},
		Role:             string(user.Role),
		Name:             user.Name,
		Email:            user.Email,
	}
	return r.WithContext(auth.WithClaims(r.Context(), claims, "test-token"))
}

func authenticated(r *http.Request, user *models.User) *http.Request {
	r.Header.Set("X-Test-Role", string(user.Role))
	r.Header.Set("X-Test-User", user.ID.String())
	return r
}

func testUser(role models.Role) *models.User {
	return &models.User{ID: uuid.New(), Email: string(role) + "@example.com", Name: "Test " + string(role), Role: role}
}

// multipartRequest builds a multipart request with an optional "file" part.
func multipartRequest(t *testing.T, method, target string, fields map[string]string, fileName, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// envelope is the decoded success response.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !env.Success {
		t.Fatalf("expected success envelope, got %s", rec.Body.String())
	}
	if into != nil {
		if err := json.Unmarshal(env.Data, into); err != nil {
			t.Fatalf("failed to decode data: %v", err)
		}
	}
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}
