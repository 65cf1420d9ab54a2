package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/signportal/pkg/apperrors"
	"github.com/ekaya-inc/signportal/pkg/audit"
	"github.com/ekaya-inc/signportal/pkg/models"
	"github.com/ekaya-inc/signportal/pkg/repositories"
	"github.com/ekaya-inc/signportal/pkg/storage"
	"github.com/ekaya-inc/signportal/pkg/tracking"
)

// fakeTransactor runs fn inline. Counts calls so tests can see nesting.
type fakeTransactor struct {
	calls int
	depth int
	// commitErr fails the outermost commit after fn succeeded.
	commitErr error
}

func (f *fakeTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	f.depth++
	err := fn(ctx)
	f.depth--
	if err == nil && f.depth == 0 {
		return f.commitErr
	}
	return err
}

// memUserRepo is an in-memory UserRepository.
type memUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[uuid.UUID]*models.User)}
}

func (m *memUserRepo) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.Email = strings.ToLower(user.Email)
	for _, u := range m.users {
		if u.Email == user.Email {
			return apperrors.Conflict("a user with email %s already exists", user.Email)
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperrors.NotFound("user")
	}
	copied := *u
	return &copied, nil
}

func (m *memUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == strings.ToLower(email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperrors.NotFound("user")
}

func (m *memUserRepo) List(ctx context.Context, role models.Role) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var users []*models.User
	for _, u := range m.users {
		if role == "" || u.Role == role {
			copied := *u
			users = append(users, &copied)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (m *memUserRepo) CountByRole(ctx context.Context, role models.Role) (int, error) {
	users, _ := m.List(ctx, role)
	return len(users), nil
}

func (m *memUserRepo) add(role models.Role, name string) *models.User {
	u := &models.User{
		ID:    uuid.New(),
		Email: strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		Name:  name,
		Role:  role,
	}
	m.mu.Lock()
	m.users[u.ID] = u
	m.mu.Unlock()
	copied := *u
	return &copied
}

// memDocumentRepo is an in-memory DocumentRepository.
type memDocumentRepo struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*models.Document
	// issued holds tracking numbers treated as already taken.
	issued     map[string]bool
	lastFilter models.DocumentFilter
	locks      []uuid.UUID
}

func newMemDocumentRepo() *memDocumentRepo {
	return &memDocumentRepo{docs: make(map[uuid.UUID]*models.Document), issued: make(map[string]bool)}
}

func (m *memDocumentRepo) MaxTrackingSequence(ctx context.Context, prefix string, year int, categoryCode string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	highest := 0
	for number := range m.issued {
		n, err := tracking.Parse(number)
		if err != nil || n.Prefix != prefix || n.Year != year || n.CategoryCode != categoryCode {
			continue
		}
		if n.Sequence > highest {
			highest = n.Sequence
		}
	}
	return highest, nil
}

func (m *memDocumentRepo) Create(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.issued[doc.TrackingNumber] {
		return apperrors.Conflict("tracking number %s already issued", doc.TrackingNumber)
	}
	m.issued[doc.TrackingNumber] = true
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	copied := *doc
	m.docs[doc.ID] = &copied
	return nil
}

func (m *memDocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, apperrors.NotFound("document")
	}
	copied := *d
	return &copied, nil
}

func (m *memDocumentRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	m.mu.Lock()
	m.locks = append(m.locks, id)
	m.mu.Unlock()
	return m.GetByID(ctx, id)
}

func (m *memDocumentRepo) ListVisible(ctx context.Context, viewer *models.User, filter models.DocumentFilter) ([]*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	var docs []*models.Document
	for _, d := range m.docs {
		copied := *d
		docs = append(docs, &copied)
	}
	return docs, nil
}

func (m *memDocumentRepo) UpdateWorkflowState(ctx context.Context, id uuid.UUID, status models.DocumentStatus, currentStageID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return apperrors.NotFound("document")
	}
	d.Status = status
	d.CurrentStageID = currentStageID
	return nil
}

func (m *memDocumentRepo) get(id uuid.UUID) *models.Document {
	d, _ := m.GetByID(context.Background(), id)
	return d
}

// memStageRepo is an in-memory WorkflowStageRepository.
type memStageRepo struct {
	mu     sync.Mutex
	stages map[uuid.UUID]*models.WorkflowStage
	docs   *memDocumentRepo
}

func newMemStageRepo(docs *memDocumentRepo) *memStageRepo {
	return &memStageRepo{stages: make(map[uuid.UUID]*models.WorkflowStage), docs: docs}
}

func (m *memStageRepo) CreateBatch(ctx context.Context, stages []*models.WorkflowStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range stages {
		copied := *s
		m.stages[s.ID] = &copied
	}
	return nil
}

func (m *memStageRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.WorkflowStage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stages[id]
	if !ok {
		return nil, apperrors.NotFound("workflow stage")
	}
	copied := *s
	return &copied, nil
}

func (m *memStageRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.WorkflowStage, error) {
	return m.GetByID(ctx, id)
}

func (m *memStageRepo) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]models.WorkflowStage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stages := make([]models.WorkflowStage, 0)
	for _, s := range m.stages {
		if s.DocumentID == documentID {
			stages = append(stages, *s)
		}
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].SequenceIndex < stages[j].SequenceIndex })
	return stages, nil
}

func (m *memStageRepo) Assign(ctx context.Context, stageID, userID, assignedBy uuid.UUID) (*models.WorkflowStage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stages[stageID]
	if !ok || s.Status == models.StageStatusCompleted {
		return nil, apperrors.InvalidState("stage is already completed")
	}
	now := time.Now()
	s.AssignedUserID = &userID
	s.AssignedBy = &assignedBy
	s.AssignedAt = &now
	s.Status = models.StageStatusAssigned
	copied := *s
	return &copied, nil
}

func (m *memStageRepo) Complete(ctx context.Context, stageID, versionID uuid.UUID) (*models.WorkflowStage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stages[stageID]
	if !ok || s.Status != models.StageStatusAssigned {
		return nil, apperrors.InvalidState("stage is not awaiting completion")
	}
	now := time.Now()
	s.Status = models.StageStatusCompleted
	s.CompletedVersionID = &versionID
	s.CompletedAt = &now
	copied := *s
	return &copied, nil
}

func (m *memStageRepo) ListPendingForUser(ctx context.Context, userID uuid.UUID) ([]*models.PendingApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*models.PendingApproval
	for _, s := range m.stages {
		if s.Status == models.StageStatusAssigned && s.IsAssignedTo(userID) {
			doc := m.docs.get(s.DocumentID)
			pending = append(pending, &models.PendingApproval{
				WorkflowStage:  *s,
				TrackingNumber: doc.TrackingNumber,
				DocumentTitle:  doc.Title,
				Priority:       doc.Priority,
			})
		}
	}
	return pending, nil
}

// memVersionRepo is an in-memory VersionRepository.
type memVersionRepo struct {
	mu        sync.Mutex
	versions  []*models.DocumentVersion
	createErr error
}

func (m *memVersionRepo) Create(ctx context.Context, version *models.DocumentVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, v := range m.versions {
		if v.DocumentID == version.DocumentID && v.VersionNumber == version.VersionNumber {
			return apperrors.Conflict("version %d already exists", version.VersionNumber)
		}
	}
	version.CreatedAt = time.Now()
	copied := *version
	m.versions = append(m.versions, &copied)
	return nil
}

func (m *memVersionRepo) NextVersionNumber(ctx context.Context, documentID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	highest := 0
	for _, v := range m.versions {
		if v.DocumentID == documentID && v.VersionNumber > highest {
			highest = v.VersionNumber
		}
	}
	return highest + 1, nil
}

func (m *memVersionRepo) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*models.DocumentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DocumentVersion
	for _, v := range m.versions {
		if v.DocumentID == documentID {
			copied := *v
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (m *memVersionRepo) GetLatest(ctx context.Context, documentID uuid.UUID) (*models.DocumentVersion, error) {
	versions, _ := m.ListByDocument(ctx, documentID)
	if len(versions) == 0 {
		return nil, apperrors.NotFound("document version")
	}
	return versions[len(versions)-1], nil
}

func (m *memVersionRepo) ListFileReferences(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := make([]string, 0, len(m.versions))
	for _, v := range m.versions {
		refs = append(refs, v.FileReference)
	}
	return refs, nil
}

// memBlobStore is an in-memory storage.BlobStore.
type memBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: make(map[string][]byte)}
}

func (m *memBlobStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (*storage.ObjectInfo, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	sum := sha256.Sum256(data)
	return &storage.ObjectInfo{Key: key, Size: int64(len(data)), SHA256: hex.EncodeToString(sum[:])}, nil
}

func (m *memBlobStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlobStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memBlobStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// fakeTracking issues sequential numbers for the current year.
type fakeTracking struct {
	mu   sync.Mutex
	next map[string]int
	err  error
	// ignoreResync simulates a counter that cannot be moved.
	ignoreResync bool
	resyncs      int
}

func (f *fakeTracking) Resync(ctx context.Context, n tracking.Number, highest int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncs++
	if f.ignoreResync {
		return nil
	}
	if f.next == nil {
		f.next = make(map[string]int)
	}
	if f.next[n.CategoryCode] < highest {
		f.next[n.CategoryCode] = highest
	}
	return nil
}

func (f *fakeTracking) Next(ctx context.Context, categoryCode string) (tracking.Number, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tracking.Number{}, f.err
	}
	if f.next == nil {
		f.next = make(map[string]int)
	}
	f.next[categoryCode]++
	return tracking.Number{Prefix: "PNP", Year: 2026, CategoryCode: categoryCode, Sequence: f.next[categoryCode]}, nil
}

// testEnv wires every service over in-memory collaborators.
type testEnv struct {
	users     *memUserRepo
	docs      *memDocumentRepo
	stages    *memStageRepo
	versions  *memVersionRepo
	blobs     *memBlobStore
	tracking  *fakeTracking
	tx        *fakeTransactor
	auditLogs *observer.ObservedLogs

	access       *AccessResolver
	workflowSvc  WorkflowService
	documentSvc  DocumentService
	versionSvc   VersionService
	userSvc      UserService
	personnel    *models.User
	supervisor   *models.User
	commander    *models.User
	director     *models.User
	admin        *models.User
	otherStaffer *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	core, logs := observer.New(zapcore.InfoLevel)
	auditor := audit.NewSecurityAuditor(zap.New(core))

	env := &testEnv{
		users:     newMemUserRepo(),
		docs:      newMemDocumentRepo(),
		versions:  &memVersionRepo{},
		blobs:     newMemBlobStore(),
		tracking:  &fakeTracking{},
		tx:        &fakeTransactor{},
		auditLogs: logs,
		access:    NewAccessResolver(true),
	}
	env.stages = newMemStageRepo(env.docs)

	var (
		_ repositories.UserRepository          = env.users
		_ repositories.DocumentRepository      = env.docs
		_ repositories.WorkflowStageRepository = env.stages
		_ repositories.VersionRepository       = env.versions
		_ storage.BlobStore                    = env.blobs
	)

	logger := zap.NewNop()
	env.workflowSvc = NewWorkflowService(env.docs, env.stages, env.users, env.access, env.tx, auditor, logger)
	env.documentSvc = NewDocumentService(DocumentServiceDeps{
		Documents:           env.docs,
		Stages:              env.stages,
		Versions:            env.versions,
		Workflow:            env.workflowSvc,
		Access:              env.access,
		Tracking:            env.tracking,
		Blobs:               env.blobs,
		Tx:                  env.tx,
		Auditor:             auditor,
		MaxTrackingAttempts: 5,
	}, logger)
	env.versionSvc = NewVersionService(env.docs, env.stages, env.versions, env.workflowSvc, env.access, env.blobs, env.tx, auditor, logger)
	env.userSvc = NewUserService(env.users, auditor, 4, logger)

	env.personnel = env.users.add(models.RolePersonnel, "Juan Dela Cruz")
	env.supervisor = env.users.add(models.RoleSupervisor, "Ana Reyes")
	env.commander = env.users.add(models.RoleUnitCommander, "Ramon Garcia")
	env.director = env.users.add(models.RoleProvincialDirector, "Elena Bautista")
	env.admin = env.users.add(models.RoleAdmin, "System Admin")
	env.otherStaffer = env.users.add(models.RolePersonnel, "Pedro Lim")
	return env
}

func testFile(content string) *models.FileUpload {
	return &models.FileUpload{
		FileName:    "memo.pdf",
		ContentType: "application/pdf",
		Size:        int64(len(content)),
		Content:     strings.NewReader(content),
	}
}

func testMetadata(documentType string) models.DocumentMetadata {
	return models.DocumentMetadata{
		Title:               "Request for Fuel Allocation",
		Purpose:             "Quarterly logistics",
		OfficeUnit:          "Logistics Division",
		ClassificationLevel: "Restricted",
		Priority:            "high",
		DocumentType:        documentType,
	}
}

// createDoc registers a document owned by env.personnel.
func (env *testEnv) createDoc(t *testing.T, documentType string) *models.DocumentDetail {
	t.Helper()
	detail, err := env.documentSvc.CreateDocument(context.Background(), testMetadata(documentType), testFile("%PDF-1.7 original"), env.personnel)
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	return detail
}

func (env *testEnv) assign(t *testing.T, stageID uuid.UUID, assignee, actor *models.User) {
	t.Helper()
	if _, err := env.workflowSvc.AssignStage(context.Background(), stageID, assignee.ID, actor); err != nil {
		t.Fatalf("AssignStage failed: %v", err)
	}
}

func (env *testEnv) signAndUpload(t *testing.T, docID, stageID uuid.UUID, uploader *models.User) *models.DocumentVersion {
	t.Helper()
	v, err := env.versionSvc.AddVersion(context.Background(), docID, testFile(fmt.Sprintf("signed by %s", uploader.Name)), "signed", &stageID, uploader)
	if err != nil {
		t.Fatalf("AddVersion failed: %v", err)
	}
	return v
}

func auditEventField(eventType string) zap.Field {
	return zap.String("event_type", eventType)
}
