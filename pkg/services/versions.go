package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/signportal/pkg/apperrors"
	"github.com/ekaya-inc/signportal/pkg/audit"
	"github.com/ekaya-inc/signportal/pkg/database"
	"github.com/ekaya-inc/signportal/pkg/models"
	"github.com/ekaya-inc/signportal/pkg/repositories"
	"github.com/ekaya-inc/signportal/pkg/storage"
)

const defaultContentType = "application/octet-stream"

// VersionService manages the append-only file history of documents.
type VersionService interface {
	// AddVersion stores a new revision. When linkedStageID is set the upload is
	// the assignee's signed copy and completes that stage in the same transaction.
	AddVersion(ctx context.Context, documentID uuid.UUID, file *models.FileUpload, reason string, linkedStageID *uuid.UUID, uploader *models.User) (*models.DocumentVersion, error)

	// ListVersions returns all versions ordered by version number.
	ListVersions(ctx context.Context, documentID uuid.UUID, requester *models.User) ([]*models.DocumentVersion, error)

	// GetCurrentVersion returns the highest-numbered version.
	GetCurrentVersion(ctx context.Context, documentID uuid.UUID, requester *models.User) (*models.DocumentVersion, error)

	// OpenVersionContent returns the current version and a reader over its file.
	// The caller must close the reader.
	OpenVersionContent(ctx context.Context, documentID uuid.UUID, requester *models.User) (*models.DocumentVersion, io.ReadCloser, error)

	// OpenStageContent returns the current version of the stage's document for
	// the stage assignee to review and sign.
	OpenStageContent(ctx context.Context, stageID uuid.UUID, requester *models.User) (*models.DocumentVersion, io.ReadCloser, error)
}

type versionService struct {
	docRepo     repositories.DocumentRepository
	stageRepo   repositories.WorkflowStageRepository
	versionRepo repositories.VersionRepository
	workflow    WorkflowService
	access      *AccessResolver
	blobs       storage.BlobStore
	tx          database.Transactor
	auditor     *audit.SecurityAuditor
	logger      *zap.Logger
}

// NewVersionService creates a new VersionService.
func NewVersionService(
	docRepo repositories.DocumentRepository,
	stageRepo repositories.WorkflowStageRepository,
	versionRepo repositories.VersionRepository,
	workflow WorkflowService,
	access *AccessResolver,
	blobs storage.BlobStore,
	tx database.Transactor,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) VersionService {
	return &versionService{
		docRepo:     docRepo,
		stageRepo:   stageRepo,
		versionRepo: versionRepo,
		workflow:    workflow,
		access:      access,
		blobs:       blobs,
		tx:          tx,
		auditor:     auditor,
		logger:      logger.Named("version-service"),
	}
}

var _ VersionService = (*versionService)(nil)

func (s *versionService) AddVersion(ctx context.Context, documentID uuid.UUID, file *models.FileUpload, reason string, linkedStageID *uuid.UUID, uploader *models.User) (*models.DocumentVersion, error) {
	if err := validateUpload(file); err != nil {
		return nil, err
	}

	doc, stages, err := loadVisibleDocument(ctx, s.docRepo, s.stageRepo, s.access, documentID, uploader)
	if err != nil {
		return nil, err
	}

	// Reject an unusable stage link before the file is streamed anywhere.
	// CompleteStage re-checks under the row locks.
	if linkedStageID != nil {
		stage := findStage(stages, *linkedStageID)
		if stage == nil {
			return nil, apperrors.InvalidState("stage does not belong to this document")
		}
		if !s.access.CanUploadVersion(uploader, stage) {
			return nil, apperrors.InvalidState("stage %q is not awaiting a signed upload from you", stage.StageName)
		}
	}

	version := &models.DocumentVersion{
		ID:            uuid.New(),
		DocumentID:    doc.ID,
		UploadReason:  strings.TrimSpace(reason),
		LinkedStageID: linkedStageID,
		UploadedBy:    uploader.ID,
	}
	if err := storeFile(ctx, s.blobs, version, file); err != nil {
		return nil, err
	}

	var completed *models.WorkflowStage
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.docRepo.GetForUpdate(ctx, doc.ID); err != nil {
			return err
		}
		number, err := s.versionRepo.NextVersionNumber(ctx, doc.ID)
		if err != nil {
			return err
		}
		version.VersionNumber = number
		if err := s.versionRepo.Create(ctx, version); err != nil {
			return err
		}
		if linkedStageID != nil {
			completed, err = s.workflow.CompleteStage(ctx, *linkedStageID, version)
			return err
		}
		return nil
	})
	if err != nil {
		discardFile(ctx, s.blobs, version.FileReference, s.logger)
		return nil, err
	}

	if completed != nil {
		s.auditor.LogStageCompleted(ctx, uploader.ID, audit.StageDetails{
			DocumentID: completed.DocumentID,
			StageID:    completed.ID,
			AssigneeID: completed.AssignedUserID,
			VersionID:  &version.ID,
		})
	}

	s.logger.Info("Document version added",
		zap.String("document_id", doc.ID.String()),
		zap.Int("version", version.VersionNumber),
		zap.Bool("completes_stage", linkedStageID != nil))
	return version, nil
}

func (s *versionService) ListVersions(ctx context.Context, documentID uuid.UUID, requester *models.User) ([]*models.DocumentVersion, error) {
	if _, _, err := loadVisibleDocument(ctx, s.docRepo, s.stageRepo, s.access, documentID, requester); err != nil {
		return nil, err
	}
	return s.versionRepo.ListByDocument(ctx, documentID)
}

func (s *versionService) GetCurrentVersion(ctx context.Context, documentID uuid.UUID, requester *models.User) (*models.DocumentVersion, error) {
	if _, _, err := loadVisibleDocument(ctx, s.docRepo, s.stageRepo, s.access, documentID, requester); err != nil {
		return nil, err
	}
	return s.versionRepo.GetLatest(ctx, documentID)
}

func (s *versionService) OpenVersionContent(ctx context.Context, documentID uuid.UUID, requester *models.User) (*models.DocumentVersion, io.ReadCloser, error) {
	version, err := s.GetCurrentVersion(ctx, documentID, requester)
	if err != nil {
		return nil, nil, err
	}
	return s.openContent(ctx, version)
}

func (s *versionService) OpenStageContent(ctx context.Context, stageID uuid.UUID, requester *models.User) (*models.DocumentVersion, io.ReadCloser, error) {
	stage, err := s.stageRepo.GetByID(ctx, stageID)
	if err != nil {
		return nil, nil, err
	}
	if !s.access.CanDownload(requester, stage) {
		return nil, nil, apperrors.Forbidden("stage %q is not assigned to you", stage.StageName)
	}

	version, err := s.versionRepo.GetLatest(ctx, stage.DocumentID)
	if err != nil {
		return nil, nil, err
	}
	return s.openContent(ctx, version)
}

func (s *versionService) openContent(ctx context.Context, version *models.DocumentVersion) (*models.DocumentVersion, io.ReadCloser, error) {
	content, err := s.blobs.Open(ctx, version.FileReference)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.logger.Error("Stored file missing for document version",
				zap.String("document_id", version.DocumentID.String()),
				zap.String("version_id", version.ID.String()),
				zap.String("key", version.FileReference))
		}
		return nil, nil, fmt.Errorf("open version content: %w", err)
	}
	return version, content, nil
}

func validateUpload(file *models.FileUpload) error {
	if file == nil || file.Content == nil {
		return apperrors.Validation("file is required")
	}
	if strings.TrimSpace(file.FileName) == "" {
		return apperrors.Validation("file name is required")
	}
	return nil
}

// storeFile streams file to the blob store under the version's key and fills
// in the version's file fields. version.ID and DocumentID must be set.
func storeFile(ctx context.Context, blobs storage.BlobStore, version *models.DocumentVersion, file *models.FileUpload) error {
	contentType := strings.TrimSpace(file.ContentType)
	if contentType == "" {
		contentType = defaultContentType
	}

	key := storage.ObjectKey(version.DocumentID, version.ID, file.FileName)
	info, err := blobs.Put(ctx, key, file.Content, contentType)
	if err != nil {
		return fmt.Errorf("store file: %w", err)
	}
	if info.Size == 0 {
		_ = blobs.Delete(context.WithoutCancel(ctx), key)
		return apperrors.Validation("file is empty")
	}

	version.FileReference = info.Key
	version.FileName = strings.TrimSpace(file.FileName)
	version.ContentType = contentType
	version.SizeBytes = info.Size
	version.SHA256 = info.SHA256
	return nil
}

// discardFile removes a blob whose metadata was never committed.
func discardFile(ctx context.Context, blobs storage.BlobStore, key string, logger *zap.Logger) {
	if key == "" {
		return
	}
	if err := blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		logger.Warn("Failed to remove orphaned file", zap.String("key", key), zap.Error(err))
	}
}
