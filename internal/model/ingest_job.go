package model

import "github.com/google/uuid"

// IngestJob is the queue payload for an upload accepted asynchronously. The
// document id is assigned by the API so the client can poll for it.
type IngestJob struct {
	DocumentID   uuid.UUID `json:"document_id"`
	Filename     string    `json:"filename"`
	DeclaredType string    `json:"declared_type"`
	Content      []byte    `json:"content"`
}
