package model

import (
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	ID         uuid.UUID  `gorm:"type:char(36);primaryKey" json:"id"`
	DocumentID *uuid.UUID `gorm:"type:char(36);index" json:"document_id,omitempty"`
	Title      string     `gorm:"size:128;not null" json:"title"`
	CreatedAt  time.Time  `gorm:"not null;index" json:"created_at"`

	Messages []Message `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
}
