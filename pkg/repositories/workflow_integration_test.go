//go:build integration

package repositories

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/signportal/pkg/apperrors"
	"github.com/ekaya-inc/signportal/pkg/database"
	"github.com/ekaya-inc/signportal/pkg/models"
)

func TestWorkflowStageRepository_AssignCompleteFlow(t *testing.T) {
	tc, ctx := setupRepoTest(t)
	owner := tc.createUser(ctx, models.RolePersonnel)
	admin := tc.createUser(ctx, models.RoleAdmin)
	supervisor := tc.createUser(ctx, models.RoleSupervisor)
	doc, stages := tc.createDocument(ctx, owner, "Flow")

	require.Len(t, stages, 2)
	assert.Equal(t, 1, stages[0].SequenceIndex)
	assert.Equal(t, models.StageStatusPending, stages[0].Status)
	assert.Nil(t, stages[0].AssignedUserID)

	// Completing before assignment is rejected.
	v1 := tc.createVersion(ctx, doc, owner.ID, nil)
	_, err := tc.stages.Complete(ctx, stages[0].ID, v1.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	assigned, err := tc.stages.Assign(ctx, stages[0].ID, supervisor.ID, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusAssigned, assigned.Status)
	assert.True(t, assigned.IsAssignedTo(supervisor.ID))
	require.NotNil(t, assigned.AssignedAt)

	pending, err := tc.stages.ListPendingForUser(ctx, supervisor.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, doc.TrackingNumber, pending[0].TrackingNumber)
	assert.Equal(t, "Flow", pending[0].DocumentTitle)

	v2 := tc.createVersion(ctx, doc, supervisor.ID, &stages[0].ID)
	completed, err := tc.stages.Complete(ctx, stages[0].ID, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedVersionID)
	assert.Equal(t, v2.ID, *completed.CompletedVersionID)

	_, err = tc.stages.Complete(ctx, stages[0].ID, v2.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	_, err = tc.stages.Assign(ctx, stages[0].ID, supervisor.ID, admin.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	pending, err = tc.stages.ListPendingForUser(ctx, supervisor.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestVersionRepository_Numbering(t *testing.T) {
	tc, ctx := setupRepoTest(t)
	owner := tc.createUser(ctx, models.RolePersonnel)
	doc, _ := tc.createDocument(ctx, owner, "Versions")

	for i := 0; i < 3; i++ {
		tc.createVersion(ctx, doc, owner.ID, nil)
	}

	versions, err := tc.versions.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	for i, v := range versions {
		assert.Equal(t, i+1, v.VersionNumber)
	}

	latest, err := tc.versions.GetLatest(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.VersionNumber)

	dup := *versions[0]
	dup.ID = versions[0].ID
	dup.ID[0] ^= 0xFF
	err = tc.versions.Create(ctx, &dup)
	assert.True(t, errors.Is(err, apperrors.ErrConflict), "expected conflict, got %v", err)

	refs, err := tc.versions.ListFileReferences(ctx)
	require.NoError(t, err)
	assert.Len(t, refs, 3)
}

func TestVersionRepository_ConcurrentNumberingUnderLock(t *testing.T) {
	tc, ctx := setupRepoTest(t)
	owner := tc.createUser(ctx, models.RolePersonnel)
	doc, _ := tc.createDocument(ctx, owner, "Concurrent")

	tx := database.NewTransactor(zaptest.NewLogger(t))
	const workers = 8

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wctx, cleanup, err := tc.testDB.DB.ScopedContext(context.Background())
			if err != nil {
				errs <- err
				return
			}
			defer cleanup()

			errs <- tx.InTx(wctx, func(ctx context.Context) error {
				if _, err := tc.docs.GetForUpdate(ctx, doc.ID); err != nil {
					return err
				}
				next, err := tc.versions.NextVersionNumber(ctx, doc.ID)
				if err != nil {
					return err
				}
				v := &models.DocumentVersion{
					DocumentID: doc.ID, VersionNumber: next, FileReference: "k", FileName: "f",
					ContentType: "text/plain", SHA256: "00", UploadedBy: owner.ID,
				}
				return tc.versions.Create(ctx, v)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	versions, err := tc.versions.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, versions, workers)
	for i, v := range versions {
		assert.Equal(t, i+1, v.VersionNumber)
	}
}

func TestTrackingSequenceRepository_Next(t *testing.T) {
	_, ctx := setupRepoTest(t)
	seq := NewTrackingSequenceRepository()

	for want := 1; want <= 3; want++ {
		got, err := seq.Next(ctx, 2026, "MEM")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := seq.Next(ctx, 2026, "LTR")
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	got, err = seq.Next(ctx, 2027, "MEM")
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestTrackingSequenceRepository_Advance(t *testing.T) {
	_, ctx := setupRepoTest(t)
	seq := NewTrackingSequenceRepository()

	// Advancing a counter that does not exist yet creates it.
	require.NoError(t, seq.Advance(ctx, 2026, "RPT", 12))
	got, err := seq.Next(ctx, 2026, "RPT")
	require.NoError(t, err)
	assert.Equal(t, 13, got)

	// A lower floor never moves the counter back.
	require.NoError(t, seq.Advance(ctx, 2026, "RPT", 4))
	got, err = seq.Next(ctx, 2026, "RPT")
	require.NoError(t, err)
	assert.Equal(t, 14, got)
}
