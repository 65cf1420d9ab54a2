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

// VersionRepository provides data access for document versions.
type VersionRepository interface {
	// Create inserts a version. A duplicate version number returns an error wrapping apperrors.ErrConflict.
	Create(ctx context.Context, version *models.DocumentVersion) error
	// NextVersionNumber returns max(version_number)+1 for the document. Callers hold the document row lock.
	NextVersionNumber(ctx context.Context, documentID uuid.UUID) (int, error)
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*models.DocumentVersion, error)
	GetLatest(ctx context.Context, documentID uuid.UUID) (*models.DocumentVersion, error)
	// ListFileReferences returns every stored blob key, for storage consistency checks.
	ListFileReferences(ctx context.Context) ([]string, error)
}

type versionRepository struct{}

// NewVersionRepository creates a new VersionRepository.
func NewVersionRepository() VersionRepository {
	return &versionRepository{}
}

var _ VersionRepository = (*versionRepository)(nil)

const versionColumns = `id, document_id, version_number, file_reference, file_name, content_type,
	size_bytes, sha256, upload_reason, linked_stage_id, uploaded_by, created_at`

func (r *versionRepository) Create(ctx context.Context, version *models.DocumentVersion) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	version.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO document_versions (` + versionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = q.Exec(ctx, query,
		version.ID,
		version.DocumentID,
		version.VersionNumber,
		version.FileReference,
		version.FileName,
		version.ContentType,
		version.SizeBytes,
		version.SHA256,
		version.UploadReason,
		version.LinkedStageID,
		version.UploadedBy,
		version.CreatedAt,
	)
	if database.IsUniqueViolation(err, "document_versions_document_number_key") {
		return apperrors.Conflict("version %d already exists", version.VersionNumber)
	}
	if err != nil {
		return fmt.Errorf("failed to create document version: %w", err)
	}
	return nil
}

func (r *versionRepository) NextVersionNumber(ctx context.Context, documentID uuid.UUID) (int, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return 0, err
	}

	var next int
	query := `SELECT COALESCE(MAX(version_number), 0) + 1 FROM document_versions WHERE document_id = $1`
	if err := q.QueryRow(ctx, query, documentID).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to compute next version number: %w", err)
	}
	return next, nil
}

func (r *versionRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*models.DocumentVersion, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + versionColumns + `
		FROM document_versions
		WHERE document_id = $1
		ORDER BY version_number`

	rows, err := q.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list document versions: %w", err)
	}
	defer rows.Close()

	versions := make([]*models.DocumentVersion, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating document versions: %w", err)
	}
	return versions, nil
}

func (r *versionRepository) GetLatest(ctx context.Context, documentID uuid.UUID) (*models.DocumentVersion, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + versionColumns + `
		FROM document_versions
		WHERE document_id = $1
		ORDER BY version_number DESC
		LIMIT 1`

	v, err := scanVersion(q.QueryRow(ctx, query, documentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("document version")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current version: %w", err)
	}
	return v, nil
}

func (r *versionRepository) ListFileReferences(ctx context.Context) ([]string, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `SELECT file_reference FROM document_versions ORDER BY file_reference`)
	if err != nil {
		return nil, fmt.Errorf("failed to list file references: %w", err)
	}
	refs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect file references: %w", err)
	}
	return refs, nil
}

func scanVersion(row pgx.Row) (*models.DocumentVersion, error) {
	var v models.DocumentVersion
	err := row.Scan(
		&v.ID,
		&v.DocumentID,
		&v.VersionNumber,
		&v.FileReference,
		&v.FileName,
		&v.ContentType,
		&v.SizeBytes,
		&v.SHA256,
		&v.UploadReason,
		&v.LinkedStageID,
		&v.UploadedBy,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
