package model

import "github.com/google/uuid"

// Chunk is one embedded span of a document. Index is unique per document and
// defines retrieval order.
type Chunk struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:char(36);not null;uniqueIndex:idx_chunk_document_index,priority:1" json:"document_id"`
	Index      int       `gorm:"column:chunk_index;not null;uniqueIndex:idx_chunk_document_index,priority:2" json:"index"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	Embedding  Vector    `gorm:"not null" json:"-"`
	PageNumber int       `gorm:"not null;default:0" json:"page_number"` // 0 = unknown
	Section    string    `gorm:"size:512;not null;default:''" json:"section"`
}
