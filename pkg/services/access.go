package services

import (
	"github.com/ekaya-inc/signportal/pkg/models"
)

// AccessResolver decides who may see and act on documents. It does no I/O:
// every decision is computed from the current document and stage state.
type AccessResolver struct {
	allowEscalation bool
}

// NewAccessResolver creates an AccessResolver. With allowEscalation, an
// authority whose rank is at least the rank a stage demands may assign it.
func NewAccessResolver(allowEscalation bool) *AccessResolver {
	return &AccessResolver{allowEscalation: allowEscalation}
}

// CanView reports whether user may see doc: admins, the owner, and the
// assignee of any stage that is not yet completed.
func (a *AccessResolver) CanView(user *models.User, doc *models.Document, stages []models.WorkflowStage) bool {
	if user == nil || doc == nil {
		return false
	}
	if user.IsAdmin() || doc.OwnerID == user.ID {
		return true
	}
	for i := range stages {
		if stages[i].Status != models.StageStatusCompleted && stages[i].IsAssignedTo(user.ID) {
			return true
		}
	}
	return false
}

// CanAssign reports whether user may set the assignee of stage.
// Only the active stage of the workflow can be assigned.
func (a *AccessResolver) CanAssign(user *models.User, stage *models.WorkflowStage, stages []models.WorkflowStage) bool {
	if user == nil || stage == nil {
		return false
	}
	active := models.ActiveStage(stages)
	if active == nil || active.ID != stage.ID {
		return false
	}
	if user.Role.Capabilities().CanAssignAny {
		return true
	}
	return a.CanHold(user.Role, stage.RequiredRole)
}

// CanHold reports whether role meets required, directly or by escalation.
func (a *AccessResolver) CanHold(role models.Role, required models.RequiredRole) bool {
	if role.Satisfies(required) {
		return true
	}
	return a.allowEscalation && role.Outranks(required)
}

// CanUploadVersion reports whether user may complete stage with an upload.
func (a *AccessResolver) CanUploadVersion(user *models.User, stage *models.WorkflowStage) bool {
	return isActiveAssignee(user, stage)
}

// CanDownload reports whether user may download the file tied to stage.
// Whole-document downloads are gated by CanView instead.
func (a *AccessResolver) CanDownload(user *models.User, stage *models.WorkflowStage) bool {
	return isActiveAssignee(user, stage)
}

func isActiveAssignee(user *models.User, stage *models.WorkflowStage) bool {
	return user != nil && stage != nil &&
		stage.Status == models.StageStatusAssigned &&
		stage.IsAssignedTo(user.ID)
}
