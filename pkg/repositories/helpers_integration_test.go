//go:build integration

package repositories

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/ekaya-inc/signportal/pkg/models"
	"github.com/ekaya-inc/signportal/pkg/testhelpers"
)

// repoTestContext holds test dependencies for repository tests.
type repoTestContext struct {
	t        *testing.T
	testDB   *testhelpers.TestDB
	users    UserRepository
	docs     DocumentRepository
	stages   WorkflowStageRepository
	versions VersionRepository
	seq      int
}

func setupRepoTest(t *testing.T) (*repoTestContext, context.Context) {
	testDB := testhelpers.GetTestDB(t)
	testDB.Reset(t)

	ctx, cleanup := testDB.Context(t)
	t.Cleanup(cleanup)

	return &repoTestContext{
		t:        t,
		testDB:   testDB,
		users:    NewUserRepository(),
		docs:     NewDocumentRepository(),
		stages:   NewWorkflowStageRepository(),
		versions: NewVersionRepository(),
	}, ctx
}

func (tc *repoTestContext) createUser(ctx context.Context, role models.Role) *models.User {
	tc.t.Helper()
	tc.seq++
	user := &models.User{
		Email:        fmt.Sprintf("%s-%d@example.test", role, tc.seq),
		Name:         fmt.Sprintf("Test %s %d", role, tc.seq),
		Role:         role,
		PasswordHash: "$2a$10$invalidinvalidinvalidinvalidinvalidinvalidinvalidinva",
	}
	if err := tc.users.Create(ctx, user); err != nil {
		tc.t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

func (tc *repoTestContext) createDocument(ctx context.Context, owner *models.User, title string) (*models.Document, []models.WorkflowStage) {
	tc.t.Helper()
	tc.seq++
	doc := &models.Document{
		TrackingNumber:      fmt.Sprintf("PNP-2026-GEN-%04d", tc.seq),
		Title:               title,
		Purpose:             "testing",
		OfficeUnit:          "HQ",
		ClassificationLevel: models.ClassificationRestricted,
		Priority:            models.PriorityNormal,
		DocumentType:        "general",
		OwnerID:             owner.ID,
	}
	if err := tc.docs.Create(ctx, doc); err != nil {
		tc.t.Fatalf("failed to create test document: %v", err)
	}

	stages := []*models.WorkflowStage{
		{DocumentID: doc.ID, SequenceIndex: 1, StageName: "Initial Review", RequiredRole: models.RequiredRoleAuthority},
		{DocumentID: doc.ID, SequenceIndex: 2, StageName: "Final Approval", RequiredRole: models.RequiredRoleAuthority},
	}
	if err := tc.stages.CreateBatch(ctx, stages); err != nil {
		tc.t.Fatalf("failed to create test stages: %v", err)
	}
	if err := tc.docs.UpdateWorkflowState(ctx, doc.ID, models.DocumentStatusPending, &stages[0].ID); err != nil {
		tc.t.Fatalf("failed to set current stage: %v", err)
	}

	listed, err := tc.stages.ListByDocument(ctx, doc.ID)
	if err != nil {
		tc.t.Fatalf("failed to list stages: %v", err)
	}
	return doc, listed
}

func (tc *repoTestContext) createVersion(ctx context.Context, doc *models.Document, uploader uuid.UUID, stageID *uuid.UUID) *models.DocumentVersion {
	tc.t.Helper()
	next, err := tc.versions.NextVersionNumber(ctx, doc.ID)
	if err != nil {
		tc.t.Fatalf("NextVersionNumber failed: %v", err)
	}
	v := &models.DocumentVersion{
		ID:            uuid.New(),
		DocumentID:    doc.ID,
		VersionNumber: next,
		FileName:      "memo.pdf",
		ContentType:   "application/pdf",
		SizeBytes:     10,
		SHA256:        "00",
		LinkedStageID: stageID,
		UploadedBy:    uploader,
	}
	v.FileReference = fmt.Sprintf("documents/%s/%s/memo.pdf", doc.ID, v.ID)
	if err := tc.versions.Create(ctx, v); err != nil {
		tc.t.Fatalf("failed to create version: %v", err)
	}
	return v
}
