package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/signportal/pkg/apperrors"
	"github.com/ekaya-inc/signportal/pkg/audit"
	"github.com/ekaya-inc/signportal/pkg/database"
	"github.com/ekaya-inc/signportal/pkg/models"
	"github.com/ekaya-inc/signportal/pkg/repositories"
	"github.com/ekaya-inc/signportal/pkg/retry"
	"github.com/ekaya-inc/signportal/pkg/sql"
	"github.com/ekaya-inc/signportal/pkg/storage"
	"github.com/ekaya-inc/signportal/pkg/tracking"
)

// Field length limits for document metadata.
const (
	maxTitleLength = 255
	maxFieldLength = 2000
)

// TrackingNumberGenerator issues tracking numbers per category code.
type TrackingNumberGenerator interface {
	Next(ctx context.Context, categoryCode string) (tracking.Number, error)
	// Resync moves the counter behind n past highest.
	Resync(ctx context.Context, n tracking.Number, highest int) error
}

var _ TrackingNumberGenerator = (*tracking.Generator)(nil)

// DocumentService registers documents and answers visibility-filtered reads.
type DocumentService interface {
	// CreateDocument registers a document owned by owner: it issues a tracking
	// number, stores the file as version 1 and instantiates the workflow.
	CreateDocument(ctx context.Context, meta models.DocumentMetadata, file *models.FileUpload, owner *models.User) (*models.DocumentDetail, error)

	// GetDocument returns the document with its workflow and current version.
	// Documents the requester cannot view are reported as not found.
	GetDocument(ctx context.Context, id uuid.UUID, requester *models.User) (*models.DocumentDetail, error)

	// ListDocuments returns the documents visible to requester, newest first.
	ListDocuments(ctx context.Context, requester *models.User, filter models.DocumentFilter) ([]*models.Document, error)
}

type documentService struct {
	docRepo     repositories.DocumentRepository
	stageRepo   repositories.WorkflowStageRepository
	versionRepo repositories.VersionRepository
	workflow    WorkflowService
	access      *AccessResolver
	tracking    TrackingNumberGenerator
	blobs       storage.BlobStore
	tx          database.Transactor
	auditor     *audit.SecurityAuditor
	maxAttempts int
	logger      *zap.Logger
}

// DocumentServiceDeps groups the collaborators of DocumentService.
type DocumentServiceDeps struct {
	Documents repositories.DocumentRepository
	Stages    repositories.WorkflowStageRepository
	Versions  repositories.VersionRepository
	Workflow  WorkflowService
	Access    *AccessResolver
	Tracking  TrackingNumberGenerator
	Blobs     storage.BlobStore
	Tx        database.Transactor
	Auditor   *audit.SecurityAuditor
	// MaxTrackingAttempts bounds retries after a tracking number collision.
	MaxTrackingAttempts int
}

// NewDocumentService creates a new DocumentService.
func NewDocumentService(deps DocumentServiceDeps, logger *zap.Logger) DocumentService {
	attempts := deps.MaxTrackingAttempts
	if attempts < 1 {
		attempts = 5
	}
	return &documentService{
		docRepo:     deps.Documents,
		stageRepo:   deps.Stages,
		versionRepo: deps.Versions,
		workflow:    deps.Workflow,
		access:      deps.Access,
		tracking:    deps.Tracking,
		blobs:       deps.Blobs,
		tx:          deps.Tx,
		auditor:     deps.Auditor,
		maxAttempts: attempts,
		logger:      logger.Named("document-service"),
	}
}

var _ DocumentService = (*documentService)(nil)

func (s *documentService) CreateDocument(ctx context.Context, meta models.DocumentMetadata, file *models.FileUpload, owner *models.User) (*models.DocumentDetail, error) {
	if owner == nil {
		return nil, apperrors.Forbidden("authentication required")
	}
	doc, err := newDocument(meta, owner.ID)
	if err != nil {
		return nil, err
	}
	if err := validateUpload(file); err != nil {
		return nil, err
	}

	version := &models.DocumentVersion{
		ID:            uuid.New(),
		DocumentID:    doc.ID,
		VersionNumber: 1,
		UploadReason:  "Initial upload",
		UploadedBy:    owner.ID,
	}
	if err := storeFile(ctx, s.blobs, version, file); err != nil {
		return nil, err
	}

	category := models.CategoryFor(doc.DocumentType)
	var stages []models.WorkflowStage
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.insertWithTrackingNumber(ctx, doc, category.Code); err != nil {
			return err
		}
		if err := s.versionRepo.Create(ctx, version); err != nil {
			return err
		}
		var err error
		stages, err = s.workflow.CreateWorkflow(ctx, doc)
		return err
	})
	if err != nil {
		discardFile(ctx, s.blobs, version.FileReference, s.logger)
		return nil, err
	}

	s.logger.Info("Document registered",
		zap.String("document_id", doc.ID.String()),
		zap.String("tracking_number", doc.TrackingNumber),
		zap.String("category", category.Code),
		zap.String("owner_id", owner.ID.String()))

	return &models.DocumentDetail{
		Document:       *doc,
		Workflow:       stages,
		CurrentVersion: version,
	}, nil
}

// insertWithTrackingNumber inserts doc under a fresh tracking number. Each
// attempt runs in a savepoint so a collision does not abort the outer
// transaction. After a collision the counter is moved past the highest number
// already issued, so a counter that lost its state recovers in one step.
func (s *documentService) insertWithTrackingNumber(ctx context.Context, doc *models.Document, categoryCode string) error {
	isCollision := func(err error) bool { return errors.Is(err, apperrors.ErrConflict) }

	err := retry.Do(ctx, retry.Immediate(s.maxAttempts, isCollision), func() error {
		number, err := s.tracking.Next(ctx, categoryCode)
		if err != nil {
			return err
		}
		doc.TrackingNumber = number.String()
		err = s.tx.InTx(ctx, func(ctx context.Context) error {
			return s.docRepo.Create(ctx, doc)
		})
		if isCollision(err) {
			s.logger.Warn("Tracking number collision, resynchronising counter",
				zap.String("tracking_number", doc.TrackingNumber))
			s.resyncTracking(ctx, number)
		}
		return err
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, tracking.ErrSequenceExhausted):
		return apperrors.Conflict("tracking numbers for category %s are exhausted this year", categoryCode)
	case errors.Is(err, apperrors.ErrConflict):
		return apperrors.Conflict("could not issue a unique tracking number after %d attempts", s.maxAttempts)
	default:
		return fmt.Errorf("issue tracking number: %w", err)
	}
}

// resyncTracking advances the counter behind n past the highest issued
// number. Failures are logged; the retry loop still draws the next value.
func (s *documentService) resyncTracking(ctx context.Context, n tracking.Number) {
	highest, err := s.docRepo.MaxTrackingSequence(ctx, n.Prefix, n.Year, n.CategoryCode)
	if err == nil {
		err = s.tracking.Resync(ctx, n, highest)
	}
	if err != nil {
		s.logger.Warn("Failed to resynchronise tracking counter",
			zap.String("category", n.CategoryCode),
			zap.Error(err))
	}
}

func (s *documentService) GetDocument(ctx context.Context, id uuid.UUID, requester *models.User) (*models.DocumentDetail, error) {
	doc, stages, err := loadVisibleDocument(ctx, s.docRepo, s.stageRepo, s.access, id, requester)
	if err != nil {
		return nil, err
	}

	detail := &models.DocumentDetail{Document: *doc, Workflow: stages}
	current, err := s.versionRepo.GetLatest(ctx, doc.ID)
	switch {
	case err == nil:
		detail.CurrentVersion = current
	case errors.Is(err, apperrors.ErrNotFound):
	default:
		return nil, err
	}
	return detail, nil
}

func (s *documentService) ListDocuments(ctx context.Context, requester *models.User, filter models.DocumentFilter) ([]*models.Document, error) {
	if requester == nil {
		return nil, apperrors.Forbidden("authentication required")
	}

	filter.Normalize()
	if filter.Status != "" && !models.IsValidDocumentStatus(filter.Status) {
		return nil, apperrors.Validation("unknown status %q", filter.Status)
	}
	if filter.ClassificationLevel != "" && filter.ClassificationLevel.Rank() < 0 {
		return nil, apperrors.Validation("unknown classification level %q", filter.ClassificationLevel)
	}
	if filter.Priority != "" {
		if _, ok := models.ParsePriority(string(filter.Priority)); !ok {
			return nil, apperrors.Validation("unknown priority %q", filter.Priority)
		}
	}

	if hit := sql.CheckValue("search", filter.Search); hit != nil {
		s.auditor.LogInjectionAttempt(ctx, requester.ID, audit.InjectionDetails{
			ParamName:   hit.ParamName,
			ParamValue:  hit.ParamValue,
			Fingerprint: hit.Fingerprint,
		})
		return nil, apperrors.Validation("search text contains disallowed SQL syntax")
	}

	return s.docRepo.ListVisible(ctx, requester, filter)
}

// newDocument validates metadata and builds an unsaved pending document.
func newDocument(meta models.DocumentMetadata, ownerID uuid.UUID) (*models.Document, error) {
	title := strings.TrimSpace(meta.Title)
	purpose := strings.TrimSpace(meta.Purpose)
	officeUnit := strings.TrimSpace(meta.OfficeUnit)

	var missing []string
	if title == "" {
		missing = append(missing, "document_title")
	}
	if purpose == "" {
		missing = append(missing, "purpose")
	}
	if officeUnit == "" {
		missing = append(missing, "office_unit")
	}
	if strings.TrimSpace(meta.ClassificationLevel) == "" {
		missing = append(missing, "classification_level")
	}
	if len(missing) > 0 {
		return nil, apperrors.Validation("missing required fields: %s", strings.Join(missing, ", "))
	}

	if len(title) > maxTitleLength {
		return nil, apperrors.Validation("document_title must be at most %d characters", maxTitleLength)
	}
	for name, value := range map[string]string{
		"purpose":               purpose,
		"office_unit":           officeUnit,
		"case_reference_number": meta.CaseReferenceNumber,
		"notes":                 meta.Notes,
	} {
		if len(value) > maxFieldLength {
			return nil, apperrors.Validation("%s must be at most %d characters", name, maxFieldLength)
		}
	}

	classification, ok := models.ParseClassificationLevel(meta.ClassificationLevel)
	if !ok {
		return nil, apperrors.Validation("unknown classification_level %q", meta.ClassificationLevel)
	}
	priority, ok := models.ParsePriority(meta.Priority)
	if !ok {
		return nil, apperrors.Validation("unknown priority %q", meta.Priority)
	}

	documentType := models.NormalizeDocumentType(meta.DocumentType)
	if documentType == "" {
		documentType = models.DefaultCategory.Name
	}

	return &models.Document{
		ID:                  uuid.New(),
		Title:               title,
		Purpose:             purpose,
		OfficeUnit:          officeUnit,
		CaseReferenceNumber: strings.TrimSpace(meta.CaseReferenceNumber),
		ClassificationLevel: classification,
		Priority:            priority,
		Notes:               strings.TrimSpace(meta.Notes),
		DocumentType:        documentType,
		Status:              models.DocumentStatusPending,
		OwnerID:             ownerID,
	}, nil
}
