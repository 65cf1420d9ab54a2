package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/signportal/pkg/apperrors"
	"github.com/ekaya-inc/signportal/pkg/audit"
	"github.com/ekaya-inc/signportal/pkg/database"
	"github.com/ekaya-inc/signportal/pkg/models"
	"github.com/ekaya-inc/signportal/pkg/repositories"
)

// WorkflowService moves documents through their approval stages.
//
// Stages go pending → assigned → completed and never back. A stage is only
// completed by CompleteStage, which runs when the assignee uploads a version
// linked to it.
type WorkflowService interface {
	// CreateWorkflow instantiates the stage template of the document's category
	// and points the document at the first stage. Must run inside the
	// transaction that created the document.
	CreateWorkflow(ctx context.Context, doc *models.Document) ([]models.WorkflowStage, error)

	// GetWorkflow returns the document's stages in order. Documents the
	// requester cannot view are reported as not found.
	GetWorkflow(ctx context.Context, documentID uuid.UUID, requester *models.User) ([]models.WorkflowStage, error)

	// AssignStage sets the assignee of the document's active stage.
	AssignStage(ctx context.Context, stageID, assigneeID uuid.UUID, actor *models.User) (*models.WorkflowStage, error)

	// CompleteStage marks the stage completed by version and advances the
	// document. Runs inside the version upload transaction; the caller audits
	// the completion once that transaction commits.
	CompleteStage(ctx context.Context, stageID uuid.UUID, version *models.DocumentVersion) (*models.WorkflowStage, error)

	// ListPendingApprovals returns the user's assigned stages, oldest assignment first.
	ListPendingApprovals(ctx context.Context, userID uuid.UUID) ([]*models.PendingApproval, error)
}

type workflowService struct {
	docRepo   repositories.DocumentRepository
	stageRepo repositories.WorkflowStageRepository
	userRepo  repositories.UserRepository
	access    *AccessResolver
	tx        database.Transactor
	auditor   *audit.SecurityAuditor
	logger    *zap.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(
	docRepo repositories.DocumentRepository,
	stageRepo repositories.WorkflowStageRepository,
	userRepo repositories.UserRepository,
	access *AccessResolver,
	tx database.Transactor,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) WorkflowService {
	return &workflowService{
		docRepo:   docRepo,
		stageRepo: stageRepo,
		userRepo:  userRepo,
		access:    access,
		tx:        tx,
		auditor:   auditor,
		logger:    logger.Named("workflow-service"),
	}
}

var _ WorkflowService = (*workflowService)(nil)

func (s *workflowService) CreateWorkflow(ctx context.Context, doc *models.Document) ([]models.WorkflowStage, error) {
	category := models.CategoryFor(doc.DocumentType)

	stages := make([]*models.WorkflowStage, len(category.Stages))
	for i, tmpl := range category.Stages {
		stages[i] = &models.WorkflowStage{
			ID:            uuid.New(),
			DocumentID:    doc.ID,
			SequenceIndex: i + 1,
			StageName:     tmpl.Name,
			RequiredRole:  tmpl.RequiredRole,
			Status:        models.StageStatusPending,
		}
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.stageRepo.CreateBatch(ctx, stages); err != nil {
			return err
		}
		return s.docRepo.UpdateWorkflowState(ctx, doc.ID, doc.Status, &stages[0].ID)
	})
	if err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	doc.CurrentStageID = &stages[0].ID

	result := make([]models.WorkflowStage, len(stages))
	for i, stage := range stages {
		result[i] = *stage
	}

	s.logger.Debug("Workflow created",
		zap.String("document_id", doc.ID.String()),
		zap.String("category", category.Code),
		zap.Int("stages", len(result)))
	return result, nil
}

func (s *workflowService) GetWorkflow(ctx context.Context, documentID uuid.UUID, requester *models.User) ([]models.WorkflowStage, error) {
	_, stages, err := loadVisibleDocument(ctx, s.docRepo, s.stageRepo, s.access, documentID, requester)
	if err != nil {
		return nil, err
	}
	return stages, nil
}

func (s *workflowService) AssignStage(ctx context.Context, stageID, assigneeID uuid.UUID, actor *models.User) (*models.WorkflowStage, error) {
	if actor == nil {
		return nil, apperrors.Forbidden("authentication required")
	}
	// Callers who can never assign learn nothing about the stage.
	if caps := actor.Role.Capabilities(); !caps.CanAssignAny && !caps.IsAuthority {
		s.auditor.LogAccessDenied(ctx, actor.ID, audit.AccessDeniedDetails{
			Action:     "assign_stage",
			Resource:   "workflow_stage",
			ResourceID: stageID,
			Reason:     fmt.Sprintf("role %s cannot assign stages", actor.Role),
		})
		return nil, apperrors.Forbidden("you are not permitted to assign this stage")
	}

	var (
		assigned *models.WorkflowStage
		doc      *models.Document
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		stage, err := s.stageRepo.GetByID(ctx, stageID)
		if err != nil {
			return err
		}

		// The document lock serialises assignment against uploads.
		doc, err = s.docRepo.GetForUpdate(ctx, stage.DocumentID)
		if err != nil {
			return err
		}
		stages, err := s.stageRepo.ListByDocument(ctx, doc.ID)
		if err != nil {
			return err
		}

		current := findStage(stages, stageID)
		if current == nil {
			return apperrors.NotFound("workflow stage")
		}
		if current.Status == models.StageStatusCompleted {
			return apperrors.InvalidState("stage %q is already completed", current.StageName)
		}
		if active := models.ActiveStage(stages); active == nil || active.ID != current.ID {
			return apperrors.InvalidState("stage %q is not the active stage", current.StageName)
		}

		if !s.access.CanAssign(actor, current, stages) {
			s.auditor.LogAccessDenied(ctx, actor.ID, audit.AccessDeniedDetails{
				Action:     "assign_stage",
				Resource:   "workflow_stage",
				ResourceID: current.ID,
				Reason:     fmt.Sprintf("role %s cannot assign stage requiring %s", actor.Role, current.RequiredRole),
			})
			return apperrors.Forbidden("you are not permitted to assign this stage")
		}

		assignee, err := s.userRepo.GetByID(ctx, assigneeID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.Validation("assignee %s does not exist", assigneeID)
		}
		if err != nil {
			return err
		}
		if !assignee.Role.Satisfies(current.RequiredRole) {
			return apperrors.Validation("assignee role %s does not satisfy required role %s",
				assignee.Role, current.RequiredRole)
		}

		assigned, err = s.stageRepo.Assign(ctx, current.ID, assignee.ID, actor.ID)
		if err != nil {
			return err
		}

		status := doc.Status
		if status == models.DocumentStatusPending {
			status = models.DocumentStatusInReview
		}
		if err := s.docRepo.UpdateWorkflowState(ctx, doc.ID, status, &assigned.ID); err != nil {
			return err
		}
		doc.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditor.LogStageAssigned(ctx, actor.ID, audit.StageDetails{
		DocumentID: doc.ID,
		StageID:    assigned.ID,
		AssigneeID: assigned.AssignedUserID,
	})
	return assigned, nil
}

func (s *workflowService) CompleteStage(ctx context.Context, stageID uuid.UUID, version *models.DocumentVersion) (*models.WorkflowStage, error) {
	var completed *models.WorkflowStage
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		stage, err := s.stageRepo.GetForUpdate(ctx, stageID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.InvalidState("linked stage does not exist")
		}
		if err != nil {
			return err
		}

		switch {
		case stage.DocumentID != version.DocumentID:
			return apperrors.InvalidState("stage belongs to another document")
		case stage.Status != models.StageStatusAssigned:
			return apperrors.InvalidState("stage %q is %s, not awaiting a signed upload", stage.StageName, stage.Status)
		case !stage.IsAssignedTo(version.UploadedBy):
			return apperrors.InvalidState("stage %q is assigned to another user", stage.StageName)
		}

		completed, err = s.stageRepo.Complete(ctx, stage.ID, version.ID)
		if err != nil {
			return err
		}

		stages, err := s.stageRepo.ListByDocument(ctx, stage.DocumentID)
		if err != nil {
			return err
		}
		if next := models.ActiveStage(stages); next != nil {
			return s.docRepo.UpdateWorkflowState(ctx, stage.DocumentID, models.DocumentStatusInReview, &next.ID)
		}
		return s.docRepo.UpdateWorkflowState(ctx, stage.DocumentID, models.DocumentStatusCompleted, nil)
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

func (s *workflowService) ListPendingApprovals(ctx context.Context, userID uuid.UUID) ([]*models.PendingApproval, error) {
	pending, err := s.stageRepo.ListPendingForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	return pending, nil
}

func findStage(stages []models.WorkflowStage, id uuid.UUID) *models.WorkflowStage {
	for i := range stages {
		if stages[i].ID == id {
			return &stages[i]
		}
	}
	return nil
}

// loadVisibleDocument loads a document and its stages, hiding documents the
// requester may not view behind NotFound.
func loadVisibleDocument(
	ctx context.Context,
	docRepo repositories.DocumentRepository,
	stageRepo repositories.WorkflowStageRepository,
	access *AccessResolver,
	documentID uuid.UUID,
	requester *models.User,
) (*models.Document, []models.WorkflowStage, error) {
	doc, err := docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	stages, err := stageRepo.ListByDocument(ctx, doc.ID)
	if err != nil {
		return nil, nil, err
	}
	if !access.CanView(requester, doc, stages) {
		return nil, nil, apperrors.NotFound("document")
	}
	return doc, stages, nil
}
