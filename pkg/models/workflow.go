package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
)

// StageStatus is the state of one workflow stage.
//
//	pending → assigned → completed
//
// Transitions are strictly forward.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusAssigned  StageStatus = "assigned"
	StageStatusCompleted StageStatus = "completed"
)

// RequiredRole is the role a stage assignee must hold.
type RequiredRole string

const (
	// RequiredRoleAuthority accepts any authority role.
	RequiredRoleAuthority          RequiredRole = "authority"
	RequiredRoleSupervisor         RequiredRole = "supervisor"
	RequiredRoleUnitCommander      RequiredRole = "unit_commander"
	RequiredRoleProvincialDirector RequiredRole = "provincial_director"
)

// IsValidRequiredRole checks if the given required role is valid.
func IsValidRequiredRole(r RequiredRole) bool {
	switch r {
	case RequiredRoleAuthority, RequiredRoleSupervisor, RequiredRoleUnitCommander, RequiredRoleProvincialDirector:
		return true
	}
	return false
}

// Rank is the minimum authority rank that meets the requirement.
func (r RequiredRole) Rank() int {
	switch r {
	case RequiredRoleAuthority, RequiredRoleSupervisor:
		return 1
	case RequiredRoleUnitCommander:
		return 2
	case RequiredRoleProvincialDirector:
		return 3
	}
	return 0
}

// WorkflowStage is one ordered approval step of a document.
type WorkflowStage struct {
	ID                 uuid.UUID    `json:"id"`
	DocumentID         uuid.UUID    `json:"document_id"`
	SequenceIndex      int          `json:"sequence_index"`
	StageName          string       `json:"stage_name"`
	RequiredRole       RequiredRole `json:"required_role"`
	AssignedUserID     *uuid.UUID   `json:"assigned_user_id,omitempty"`
	AssignedBy         *uuid.UUID   `json:"assigned_by,omitempty"`
	Status             StageStatus  `json:"status"`
	CompletedVersionID *uuid.UUID   `json:"completed_version_id,omitempty"`
	AssignedAt         *time.Time   `json:"assigned_at,omitempty"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// IsAssignedTo reports whether userID is the stage's current assignee.
func (s *WorkflowStage) IsAssignedTo(userID uuid.UUID) bool {
	return s.AssignedUserID != nil && *s.AssignedUserID == userID
}

// ActiveStage returns the first non-completed stage in sequence order,
// or nil when every stage is completed. stages must be sorted by SequenceIndex.
func ActiveStage(stages []WorkflowStage) *WorkflowStage {
	for i := range stages {
		if stages[i].Status != StageStatusCompleted {
			return &stages[i]
		}
	}
	return nil
}

// PendingApproval is an assigned stage awaiting the assignee's signed upload.
type PendingApproval struct {
	WorkflowStage
	TrackingNumber string   `json:"tracking_number"`
	DocumentTitle  string   `json:"document_title"`
	Priority       Priority `json:"priority"`
}

// StageTemplate describes one stage instantiated for a new document.
type StageTemplate struct {
	Name         string
	RequiredRole RequiredRole
}

// DocumentCategory groups document types that share a tracking code and stage template.
type DocumentCategory struct {
	Name   string
	Code   string
	Stages []StageTemplate
}

var (
	reviewMemoStages = []StageTemplate{
		{Name: "Initial Review", RequiredRole: RequiredRoleAuthority},
		{Name: "Unit Endorsement", RequiredRole: RequiredRoleUnitCommander},
		{Name: "Final Approval", RequiredRole: RequiredRoleProvincialDirector},
	}

	// DefaultCategory applies to unknown or empty document types.
	DefaultCategory = DocumentCategory{
		Name: "general",
		Code: "GEN",
		Stages: []StageTemplate{
			{Name: "Initial Review", RequiredRole: RequiredRoleAuthority},
			{Name: "Final Approval", RequiredRole: RequiredRoleAuthority},
		},
	}

	documentCategories = map[string]DocumentCategory{
		"memorandum": {Name: "memorandum", Code: "MEM", Stages: reviewMemoStages},
		"letter": {Name: "letter", Code: "LTR", Stages: []StageTemplate{
			{Name: "Initial Review", RequiredRole: RequiredRoleAuthority},
			{Name: "Final Approval", RequiredRole: RequiredRoleUnitCommander},
		}},
		"report": {Name: "report", Code: "RPT", Stages: reviewMemoStages},
		"order": {Name: "order", Code: "ORD", Stages: []StageTemplate{
			{Name: "Initial Review", RequiredRole: RequiredRoleAuthority},
			{Name: "Signature", RequiredRole: RequiredRoleProvincialDirector},
		}},
		"general": DefaultCategory,
	}
)

// NormalizeDocumentType trims, lower-cases and singularises a free-text type,
// so "Memorandums" and " reports" resolve to their category.
func NormalizeDocumentType(documentType string) string {
	t := strings.ToLower(strings.TrimSpace(documentType))
	if t == "" {
		return ""
	}
	return inflection.Singular(t)
}

// CategoryFor resolves a document type to its category, falling back to DefaultCategory.
func CategoryFor(documentType string) DocumentCategory {
	if c, ok := documentCategories[NormalizeDocumentType(documentType)]; ok {
		return c
	}
	return DefaultCategory
}
