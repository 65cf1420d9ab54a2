package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the lifecycle state of a document.
//
//	pending → in_review → completed
//
// A document is completed exactly when every workflow stage is completed.
type DocumentStatus string

const (
	DocumentStatusPending   DocumentStatus = "pending"
	DocumentStatusInReview  DocumentStatus = "in_review"
	DocumentStatusCompleted DocumentStatus = "completed"
)

// IsValidDocumentStatus checks if the given status is valid.
func IsValidDocumentStatus(s DocumentStatus) bool {
	switch s {
	case DocumentStatusPending, DocumentStatusInReview, DocumentStatusCompleted:
		return true
	}
	return false
}

// ClassificationLevel is the security marking of a document, ordered from least to most sensitive.
type ClassificationLevel string

const (
	ClassificationUnclassified ClassificationLevel = "Unclassified"
	ClassificationRestricted   ClassificationLevel = "Restricted"
	ClassificationConfidential ClassificationLevel = "Confidential"
	ClassificationSecret       ClassificationLevel = "Secret"
	ClassificationTopSecret    ClassificationLevel = "Top Secret"
)

// ClassificationLevels lists levels in ascending order of sensitivity.
var ClassificationLevels = []ClassificationLevel{
	ClassificationUnclassified,
	ClassificationRestricted,
	ClassificationConfidential,
	ClassificationSecret,
	ClassificationTopSecret,
}

// ParseClassificationLevel accepts the canonical names case-insensitively,
// with "_" or "-" in place of the space ("top_secret").
func ParseClassificationLevel(s string) (ClassificationLevel, bool) {
	normalized := strings.NewReplacer("_", " ", "-", " ").Replace(strings.TrimSpace(s))
	for _, level := range ClassificationLevels {
		if strings.EqualFold(string(level), normalized) {
			return level, true
		}
	}
	return "", false
}

// Rank returns the position of the level in the sensitivity order, or -1 if unknown.
func (c ClassificationLevel) Rank() int {
	for i, level := range ClassificationLevels {
		if level == c {
			return i
		}
	}
	return -1
}

// Priority is the handling urgency of a document.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Priorities lists priorities in ascending order.
var Priorities = []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}

// ParsePriority parses a priority case-insensitively. Empty input yields PriorityNormal.
func ParsePriority(s string) (Priority, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PriorityNormal, true
	}
	for _, p := range Priorities {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// Document is a registered document moving through an approval workflow.
type Document struct {
	ID                  uuid.UUID           `json:"id"`
	TrackingNumber      string              `json:"tracking_number"`
	Title               string              `json:"title"`
	Purpose             string              `json:"purpose"`
	OfficeUnit          string              `json:"office_unit"`
	CaseReferenceNumber string              `json:"case_reference_number"`
	ClassificationLevel ClassificationLevel `json:"classification_level"`
	Priority            Priority            `json:"priority"`
	Notes               string              `json:"notes"`
	DocumentType        string              `json:"document_type"`
	Status              DocumentStatus      `json:"status"`
	OwnerID             uuid.UUID           `json:"owner_id"`
	CurrentStageID      *uuid.UUID          `json:"current_stage_id,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// DocumentMetadata is the caller-supplied description of a new document.
// Values are raw form input; DocumentService validates and normalises them.
type DocumentMetadata struct {
	Title               string
	Purpose             string
	OfficeUnit          string
	CaseReferenceNumber string
	ClassificationLevel string
	Priority            string
	Notes               string
	DocumentType        string
}

// List paging bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// DocumentFilter narrows ListDocuments. Zero values mean "no filter".
type DocumentFilter struct {
	Status              DocumentStatus
	Search              string
	ClassificationLevel ClassificationLevel
	Priority            Priority
	Limit               int
	Offset              int
}

// Normalize clamps paging to the allowed range.
func (f *DocumentFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Search = strings.TrimSpace(f.Search)
}

// DocumentDetail is a document with its workflow and current version.
type DocumentDetail struct {
	Document
	Workflow       []WorkflowStage  `json:"workflow"`
	CurrentVersion *DocumentVersion `json:"current_version,omitempty"`
}
