package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	DocumentStatusProcessing = "processing"
	DocumentStatusReady      = "ready"
)

const (
	FileTypePDF  = "pdf"
	FileTypeDOCX = "docx"
)

type Document struct {
	ID               uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	OriginalFilename string    `gorm:"size:512;not null" json:"original_filename"`
	StoragePath      string    `gorm:"size:1024;not null" json:"storage_path"`
	FileType         string    `gorm:"size:8;not null" json:"file_type"`
	Status           string    `gorm:"size:16;not null;index" json:"status"`
	UploadedAt       time.Time `gorm:"not null;index" json:"uploaded_at"`
	Metadata         *string   `gorm:"type:text" json:"metadata,omitempty"`

	Chunks []Chunk `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`
}
