package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/signportal/pkg/apperrors"
	"github.com/ekaya-inc/signportal/pkg/models"
)

func TestWorkflowService_CreateWorkflow_Templates(t *testing.T) {
	tests := []struct {
		documentType string
		wantRoles    []models.RequiredRole
	}{
		{"memorandum", []models.RequiredRole{models.RequiredRoleAuthority, models.RequiredRoleUnitCommander, models.RequiredRoleProvincialDirector}},
		{"Letters", []models.RequiredRole{models.RequiredRoleAuthority, models.RequiredRoleUnitCommander}},
		{"order", []models.RequiredRole{models.RequiredRoleAuthority, models.RequiredRoleProvincialDirector}},
		{"something else", []models.RequiredRole{models.RequiredRoleAuthority, models.RequiredRoleAuthority}},
	}

	for _, tt := range tests {
		t.Run(tt.documentType, func(t *testing.T) {
			env := newTestEnv(t)
			detail := env.createDoc(t, tt.documentType)

			require.Len(t, detail.Workflow, len(tt.wantRoles))
			for i, stage := range detail.Workflow {
				assert.Equal(t, i+1, stage.SequenceIndex)
				assert.Equal(t, tt.wantRoles[i], stage.RequiredRole)
				assert.Equal(t, models.StageStatusPending, stage.Status)
				assert.Nil(t, stage.AssignedUserID)
			}

			stored := env.docs.get(detail.ID)
			require.NotNil(t, stored.CurrentStageID)
			assert.Equal(t, detail.Workflow[0].ID, *stored.CurrentStageID)
			assert.Equal(t, models.DocumentStatusPending, stored.Status)
		})
	}
}

func TestWorkflowService_AssignStage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	detail := env.createDoc(t, "memorandum")
	first := detail.Workflow[0]

	stage, err := env.workflowSvc.AssignStage(ctx, first.ID, env.supervisor.ID, env.supervisor)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusAssigned, stage.Status)
	assert.True(t, stage.IsAssignedTo(env.supervisor.ID))
	require.NotNil(t, stage.AssignedBy)
	assert.Equal(t, env.supervisor.ID, *stage.AssignedBy)
	assert.NotNil(t, stage.AssignedAt)

	doc := env.docs.get(detail.ID)
	assert.Equal(t, models.DocumentStatusInReview, doc.Status)

	// The assignee now sees the document.
	_, err = env.documentSvc.GetDocument(ctx, detail.ID, env.supervisor)
	assert.NoError(t, err)
}

func TestWorkflowService_AssignStage_Reassign(t *testing.T) {
	env := newTestEnv(t)
	other := env.users.add(models.RoleSupervisor, "Luz Santos")
	detail := env.createDoc(t, "letter")
	stageID := detail.Workflow[0].ID

	env.assign(t, stageID, env.supervisor, env.admin)
	stage, err := env.workflowSvc.AssignStage(context.Background(), stageID, other.ID, env.admin)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusAssigned, stage.Status)
	assert.True(t, stage.IsAssignedTo(other.ID))
}

func TestWorkflowService_AssignStage_Forbidden(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createDoc(t, "memorandum")

	_, err := env.workflowSvc.AssignStage(context.Background(), detail.Workflow[0].ID, env.supervisor.ID, env.personnel)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	assert.Equal(t, 1, env.auditLogs.FilterField(auditEventField("access_denied")).Len())
}

func TestWorkflowService_AssignStage_IneligibleActorSeesNoState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	detail := env.createDoc(t, "memorandum")
	env.assign(t, detail.Workflow[0].ID, env.supervisor, env.admin)
	env.signAndUpload(t, detail.ID, detail.Workflow[0].ID, env.supervisor)

	for name, stageID := range map[string]uuid.UUID{
		"completed stage": detail.Workflow[0].ID,
		"inactive stage":  detail.Workflow[2].ID,
		"unknown stage":   uuid.New(),
	} {
		_, err := env.workflowSvc.AssignStage(ctx, stageID, env.supervisor.ID, env.personnel)
		assert.ErrorIs(t, err, apperrors.ErrForbidden, name)
	}
	assert.Equal(t, 3, env.auditLogs.FilterField(auditEventField("access_denied")).Len())
}

func TestWorkflowService_AssignStage_NotActive(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createDoc(t, "memorandum")

	_, err := env.workflowSvc.AssignStage(context.Background(), detail.Workflow[1].ID, env.commander.ID, env.admin)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestWorkflowService_AssignStage_Completed(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createDoc(t, "memorandum")
	first := detail.Workflow[0].ID

	env.assign(t, first, env.supervisor, env.supervisor)
	env.signAndUpload(t, detail.ID, first, env.supervisor)

	_, err := env.workflowSvc.AssignStage(context.Background(), first, env.supervisor.ID, env.admin)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestWorkflowService_AssignStage_InvalidAssignee(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createDoc(t, "memorandum")
	first := detail.Workflow[0].ID

	_, err := env.workflowSvc.AssignStage(context.Background(), first, uuid.New(), env.admin)
	assert.ErrorIs(t, err, apperrors.ErrValidation, "unknown assignee")

	_, err = env.workflowSvc.AssignStage(context.Background(), first, env.otherStaffer.ID, env.admin)
	assert.ErrorIs(t, err, apperrors.ErrValidation, "personnel cannot hold an authority stage")

	_, err = env.workflowSvc.AssignStage(context.Background(), first, env.admin.ID, env.admin)
	assert.ErrorIs(t, err, apperrors.ErrValidation, "admin is not an authority")
}

func TestWorkflowService_AssignStage_UnknownStage(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.workflowSvc.AssignStage(context.Background(), uuid.New(), env.supervisor.ID, env.admin)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestWorkflowService_FullApprovalChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	detail := env.createDoc(t, "memorandum")
	stages := detail.Workflow

	env.assign(t, stages[0].ID, env.supervisor, env.supervisor)
	env.signAndUpload(t, detail.ID, stages[0].ID, env.supervisor)

	doc := env.docs.get(detail.ID)
	assert.Equal(t, models.DocumentStatusInReview, doc.Status)
	require.NotNil(t, doc.CurrentStageID)
	assert.Equal(t, stages[1].ID, *doc.CurrentStageID)

	// The first signer no longer sees the document once their stage closes.
	_, err := env.documentSvc.GetDocument(ctx, detail.ID, env.supervisor)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	env.assign(t, stages[1].ID, env.commander, env.commander)
	env.signAndUpload(t, detail.ID, stages[1].ID, env.commander)

	// Escalation: the director may assign to themselves on their own stage.
	env.assign(t, stages[2].ID, env.director, env.director)
	env.signAndUpload(t, detail.ID, stages[2].ID, env.director)

	doc = env.docs.get(detail.ID)
	assert.Equal(t, models.DocumentStatusCompleted, doc.Status)
	assert.Nil(t, doc.CurrentStageID)

	final, err := env.workflowSvc.GetWorkflow(ctx, detail.ID, env.personnel)
	require.NoError(t, err)
	for _, stage := range final {
		assert.Equal(t, models.StageStatusCompleted, stage.Status)
		assert.NotNil(t, stage.CompletedVersionID)
		assert.NotNil(t, stage.CompletedAt)
	}

	versions, err := env.versionSvc.ListVersions(ctx, detail.ID, env.personnel)
	require.NoError(t, err)
	require.Len(t, versions, 4)
	for i, v := range versions {
		assert.Equal(t, i+1, v.VersionNumber)
	}
}

func TestWorkflowService_CompleteStage_Rules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	detail := env.createDoc(t, "letter")
	first := detail.Workflow[0]

	version := &models.DocumentVersion{ID: uuid.New(), DocumentID: detail.ID, UploadedBy: env.supervisor.ID}

	_, err := env.workflowSvc.CompleteStage(ctx, first.ID, version)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState, "pending stage cannot complete")

	env.assign(t, first.ID, env.supervisor, env.supervisor)

	wrongUploader := *version
	wrongUploader.UploadedBy = env.commander.ID
	_, err = env.workflowSvc.CompleteStage(ctx, first.ID, &wrongUploader)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState, "only the assignee completes")

	otherDoc := *version
	otherDoc.DocumentID = uuid.New()
	_, err = env.workflowSvc.CompleteStage(ctx, first.ID, &otherDoc)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState, "stage of another document")

	_, err = env.workflowSvc.CompleteStage(ctx, uuid.New(), version)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState, "unknown stage")

	completed, err := env.workflowSvc.CompleteStage(ctx, first.ID, version)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusCompleted, completed.Status)
	assert.Equal(t, version.ID, *completed.CompletedVersionID)

	_, err = env.workflowSvc.CompleteStage(ctx, first.ID, version)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState, "completed stages stay completed")
}

func TestWorkflowService_GetWorkflow_Hidden(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createDoc(t, "letter")

	_, err := env.workflowSvc.GetWorkflow(context.Background(), detail.ID, env.otherStaffer)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = env.workflowSvc.GetWorkflow(context.Background(), uuid.New(), env.admin)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestWorkflowService_ListPendingApprovals(t *testing.T) {
	env := newTestEnv(t)
	first := env.createDoc(t, "letter")
	second := env.createDoc(t, "order")

	env.assign(t, first.Workflow[0].ID, env.supervisor, env.admin)
	env.assign(t, second.Workflow[0].ID, env.supervisor, env.admin)

	pending, err := env.workflowSvc.ListPendingApprovals(context.Background(), env.supervisor.ID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, p := range pending {
		assert.NotEmpty(t, p.TrackingNumber)
		assert.Equal(t, "Request for Fuel Allocation", p.DocumentTitle)
		assert.Equal(t, models.PriorityHigh, p.Priority)
	}

	env.signAndUpload(t, first.ID, first.Workflow[0].ID, env.supervisor)
	pending, err = env.workflowSvc.ListPendingApprovals(context.Background(), env.supervisor.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	none, err := env.workflowSvc.ListPendingApprovals(context.Background(), env.commander.ID)
	require.NoError(t, err)
	assert.Empty(t, none)
}
