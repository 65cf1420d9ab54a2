package models

import (
	"io"
	"time"

	"github.com/google/uuid"
)

// DocumentVersion is one uploaded revision of a document's file.
// Version 1 is the original upload; numbers increase without gaps.
type DocumentVersion struct {
	ID            uuid.UUID  `json:"id"`
	DocumentID    uuid.UUID  `json:"document_id"`
	VersionNumber int        `json:"version_number"`
	FileReference string     `json:"-"`
	FileName      string     `json:"file_name"`
	ContentType   string     `json:"content_type"`
	SizeBytes     int64      `json:"size_bytes"`
	SHA256        string     `json:"sha256"`
	UploadReason  string     `json:"upload_reason"`
	LinkedStageID *uuid.UUID `json:"linked_stage_id,omitempty"`
	UploadedBy    uuid.UUID  `json:"uploaded_by"`
	CreatedAt     time.Time  `json:"created_at"`
}

// FileUpload is a file received from a client, not yet stored.
type FileUpload struct {
	FileName    string
	ContentType string
	// Size is the client-declared size; -1 when unknown.
	Size    int64
	Content io.Reader
}
