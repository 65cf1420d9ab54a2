package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/signportal/pkg/apperrors"
	"github.com/ekaya-inc/signportal/pkg/database"
	"github.com/ekaya-inc/signportal/pkg/models"
)

// DocumentRepository provides data access for documents.
type DocumentRepository interface {
	// Create inserts the document. A tracking number collision returns an error wrapping apperrors.ErrConflict.
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	// GetForUpdate reads the document and locks its row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Document, error)
	// ListVisible returns documents the viewer may see, narrowed by filter.
	ListVisible(ctx context.Context, viewer *models.User, filter models.DocumentFilter) ([]*models.Document, error)
	UpdateWorkflowState(ctx context.Context, id uuid.UUID, status models.DocumentStatus, currentStageID *uuid.UUID) error
	// MaxTrackingSequence returns the highest sequence issued under prefix for
	// (year, categoryCode), or 0 when none was issued.
	MaxTrackingSequence(ctx context.Context, prefix string, year int, categoryCode string) (int, error)
}

type documentRepository struct{}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository() DocumentRepository {
	return &documentRepository{}
}

var _ DocumentRepository = (*documentRepository)(nil)

const documentColumns = `d.id, d.tracking_number, d.title, d.purpose, d.office_unit, d.case_reference_number,
	d.classification_level, d.priority, d.notes, d.document_type, d.status, d.owner_id,
	d.current_stage_id, d.created_at, d.updated_at`

func (r *documentRepository) Create(ctx context.Context, doc *models.Document) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = models.DocumentStatusPending
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now

	query := `
		INSERT INTO documents (
			id, tracking_number, title, purpose, office_unit, case_reference_number,
			classification_level, priority, notes, document_type, status, owner_id,
			current_stage_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = q.Exec(ctx, query,
		doc.ID,
		doc.TrackingNumber,
		doc.Title,
		doc.Purpose,
		doc.OfficeUnit,
		doc.CaseReferenceNumber,
		doc.ClassificationLevel,
		doc.Priority,
		doc.Notes,
		doc.DocumentType,
		doc.Status,
		doc.OwnerID,
		doc.CurrentStageID,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if database.IsUniqueViolation(err, "documents_tracking_number_key") {
		return apperrors.Conflict("tracking number %s already issued", doc.TrackingNumber)
	}
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (r *documentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	return r.get(ctx, id, false)
}

func (r *documentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	return r.get(ctx, id, true)
}

func (r *documentRepository) get(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Document, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + documentColumns + ` FROM documents d WHERE d.id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	doc, err := scanDocument(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("document")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (r *documentRepository) ListVisible(ctx context.Context, viewer *models.User, filter models.DocumentFilter) ([]*models.Document, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}
	if viewer == nil {
		return nil, nil
	}
	filter.Normalize()

	var conditions []string
	var args []any
	argIdx := 1

	// Same rule as the access resolver: admin, owner, or assignee of a stage still in flight.
	if !viewer.IsAdmin() {
		conditions = append(conditions, fmt.Sprintf(`(d.owner_id = $%d OR EXISTS (
			SELECT 1 FROM workflow_stages s
			WHERE s.document_id = d.id AND s.assigned_user_id = $%d AND s.status <> 'completed'))`, argIdx, argIdx))
		args = append(args, viewer.ID)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("d.status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.ClassificationLevel != "" {
		conditions = append(conditions, fmt.Sprintf("d.classification_level = $%d", argIdx))
		args = append(args, filter.ClassificationLevel)
		argIdx++
	}
	if filter.Priority != "" {
		conditions = append(conditions, fmt.Sprintf("d.priority = $%d", argIdx))
		args = append(args, filter.Priority)
		argIdx++
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(d.tracking_number ILIKE $%d OR d.title ILIKE $%d)", argIdx, argIdx))
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM documents d
		%s
		ORDER BY d.created_at DESC, d.id DESC
		LIMIT $%d OFFSET $%d`, documentColumns, where, argIdx, argIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]*models.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

func (r *documentRepository) UpdateWorkflowState(ctx context.Context, id uuid.UUID, status models.DocumentStatus, currentStageID *uuid.UUID) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE documents
		SET status = $1, current_stage_id = $2, updated_at = $3
		WHERE id = $4`

	result, err := q.Exec(ctx, query, status, currentStageID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update document workflow state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NotFound("document")
	}
	return nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var doc models.Document
	err := row.Scan(
		&doc.ID,
		&doc.TrackingNumber,
		&doc.Title,
		&doc.Purpose,
		&doc.OfficeUnit,
		&doc.CaseReferenceNumber,
		&doc.ClassificationLevel,
		&doc.Priority,
		&doc.Notes,
		&doc.DocumentType,
		&doc.Status,
		&doc.OwnerID,
		&doc.CurrentStageID,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// escapeLike escapes LIKE wildcards so user search text matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *documentRepository) MaxTrackingSequence(ctx context.Context, prefix string, year int, categoryCode string) (int, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return 0, err
	}

	query := `
		SELECT COALESCE(MAX(CAST(split_part(tracking_number, '-', 4) AS integer)), 0)
		FROM documents
		WHERE tracking_number LIKE $1`

	pattern := fmt.Sprintf("%s-%04d-%s-%%", prefix, year, categoryCode)
	var highest int
	if err := q.QueryRow(ctx, query, pattern).Scan(&highest); err != nil {
		return 0, fmt.Errorf("failed to read highest tracking number: %w", err)
	}
	return highest, nil
}
