package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InteractionMatch is the only interaction kind recorded today.
const InteractionMatch = "match"

// Interaction is one user expressing interest in their session partner.
// A reciprocal row in the same session means the interest is mutual.
type Interaction struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Kind      string    `gorm:"not null;uniqueIndex:idx_interaction_once,priority:1" json:"kind"`
	FromUID   string    `gorm:"not null;uniqueIndex:idx_interaction_once,priority:2" json:"from_uid"`
	ToUID     string    `gorm:"not null;index" json:"to_uid"`
	SessionID string    `gorm:"not null;uniqueIndex:idx_interaction_once,priority:3" json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (Interaction) TableName() string { return "interactions" }

func (i *Interaction) BeforeCreate(tx *gorm.DB) (err error) {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	return
}
