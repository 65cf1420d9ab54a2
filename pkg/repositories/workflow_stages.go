package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/signportal/pkg/apperrors"
	"github.com/ekaya-inc/signportal/pkg/database"
	"github.com/ekaya-inc/signportal/pkg/models"
)

// WorkflowStageRepository provides data access for document workflow stages.
type WorkflowStageRepository interface {
	CreateBatch(ctx context.Context, stages []*models.WorkflowStage) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.WorkflowStage, error)
	// GetForUpdate reads the stage and locks its row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.WorkflowStage, error)
	// ListByDocument returns the document's stages in sequence order.
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]models.WorkflowStage, error)
	// Assign sets the assignee of a stage that is not completed.
	Assign(ctx context.Context, stageID, userID, assignedBy uuid.UUID) (*models.WorkflowStage, error)
	// Complete marks an assigned stage completed by versionID.
	Complete(ctx context.Context, stageID, versionID uuid.UUID) (*models.WorkflowStage, error)
	ListPendingForUser(ctx context.Context, userID uuid.UUID) ([]*models.PendingApproval, error)
}

type workflowStageRepository struct{}

// NewWorkflowStageRepository creates a new WorkflowStageRepository.
func NewWorkflowStageRepository() WorkflowStageRepository {
	return &workflowStageRepository{}
}

var _ WorkflowStageRepository = (*workflowStageRepository)(nil)

const stageColumns = `s.id, s.document_id, s.sequence_index, s.stage_name, s.required_role,
	s.assigned_user_id, s.assigned_by, s.status, s.completed_version_id,
	s.assigned_at, s.completed_at, s.created_at, s.updated_at`

func (r *workflowStageRepository) CreateBatch(ctx context.Context, stages []*models.WorkflowStage) error {
	if len(stages) == 0 {
		return nil
	}

	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	columns := []string{
		"id", "document_id", "sequence_index", "stage_name", "required_role",
		"status", "created_at", "updated_at",
	}

	rows := make([][]any, len(stages))
	for i, stage := range stages {
		if stage.ID == uuid.Nil {
			stage.ID = uuid.New()
		}
		if stage.Status == "" {
			stage.Status = models.StageStatusPending
		}
		stage.CreatedAt = now
		stage.UpdatedAt = now

		rows[i] = []any{
			stage.ID, stage.DocumentID, stage.SequenceIndex, stage.StageName, string(stage.RequiredRole),
			string(stage.Status), stage.CreatedAt, stage.UpdatedAt,
		}
	}

	n, err := q.CopyFrom(ctx, pgx.Identifier{"workflow_stages"}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to create workflow stages: %w", err)
	}
	if int(n) != len(stages) {
		return fmt.Errorf("created %d workflow stages, expected %d", n, len(stages))
	}
	return nil
}

func (r *workflowStageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.WorkflowStage, error) {
	return r.get(ctx, id, false)
}

func (r *workflowStageRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.WorkflowStage, error) {
	return r.get(ctx, id, true)
}

func (r *workflowStageRepository) get(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.WorkflowStage, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + stageColumns + ` FROM workflow_stages s WHERE s.id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	stage, err := scanStage(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("workflow stage")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow stage: %w", err)
	}
	return stage, nil
}

func (r *workflowStageRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]models.WorkflowStage, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + stageColumns + `
		FROM workflow_stages s
		WHERE s.document_id = $1
		ORDER BY s.sequence_index`

	rows, err := q.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow stages: %w", err)
	}
	defer rows.Close()

	stages := make([]models.WorkflowStage, 0)
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow stage: %w", err)
		}
		stages = append(stages, *stage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow stages: %w", err)
	}
	return stages, nil
}

func (r *workflowStageRepository) Assign(ctx context.Context, stageID, userID, assignedBy uuid.UUID) (*models.WorkflowStage, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE workflow_stages s
		SET assigned_user_id = $1, assigned_by = $2, status = 'assigned', assigned_at = $3, updated_at = $3
		WHERE s.id = $4 AND s.status <> 'completed'
		RETURNING ` + stageColumns

	stage, err := scanStage(q.QueryRow(ctx, query, userID, assignedBy, time.Now().UTC(), stageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.InvalidState("stage is already completed")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to assign workflow stage: %w", err)
	}
	return stage, nil
}

func (r *workflowStageRepository) Complete(ctx context.Context, stageID, versionID uuid.UUID) (*models.WorkflowStage, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE workflow_stages s
		SET status = 'completed', completed_version_id = $1, completed_at = $2, updated_at = $2
		WHERE s.id = $3 AND s.status = 'assigned'
		RETURNING ` + stageColumns

	stage, err := scanStage(q.QueryRow(ctx, query, versionID, time.Now().UTC(), stageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.InvalidState("stage is not awaiting completion")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to complete workflow stage: %w", err)
	}
	return stage, nil
}

func (r *workflowStageRepository) ListPendingForUser(ctx context.Context, userID uuid.UUID) ([]*models.PendingApproval, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + stageColumns + `, d.tracking_number, d.title, d.priority
		FROM workflow_stages s
		JOIN documents d ON d.id = s.document_id
		WHERE s.assigned_user_id = $1 AND s.status = 'assigned'
		ORDER BY s.assigned_at, s.id`

	rows, err := q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	pending := make([]*models.PendingApproval, 0)
	for rows.Next() {
		var p models.PendingApproval
		dest := append(stageScanDest(&p.WorkflowStage), &p.TrackingNumber, &p.DocumentTitle, &p.Priority)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan pending approval: %w", err)
		}
		pending = append(pending, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending approvals: %w", err)
	}
	return pending, nil
}

func stageScanDest(s *models.WorkflowStage) []any {
	return []any{
		&s.ID,
		&s.DocumentID,
		&s.SequenceIndex,
		&s.StageName,
		&s.RequiredRole,
		&s.AssignedUserID,
		&s.AssignedBy,
		&s.Status,
		&s.CompletedVersionID,
		&s.AssignedAt,
		&s.CompletedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	}
}

func scanStage(row pgx.Row) (*models.WorkflowStage, error) {
	var stage models.WorkflowStage
	if err := row.Scan(stageScanDest(&stage)...); err != nil {
		return nil, err
	}
	return &stage, nil
}
