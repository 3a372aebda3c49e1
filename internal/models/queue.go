package models

import (
	"time"

	json "github.com/goccy/go-json"
	"gorm.io/datatypes"
)

// QueueEntry is a user waiting for a partner. There is at most one row per
// user; rows with ExpiresAt in the past are treated as absent.
type QueueEntry struct {
	// UserID is the waiting user; the primary key keeps one row per user.
	UserID string  `gorm:"primaryKey" json:"uid"`
	ModeID *string `json:"mode_id,omitempty"`
	// PrefsSnapshot is the JSON encoding of Preferences at enqueue time.
	PrefsSnapshot datatypes.JSON `gorm:"type:jsonb" json:"preferences_snapshot"`
	// LocationSnapshot is the profile location at enqueue time.
	LocationSnapshot string    `json:"location_snapshot,omitempty"`
	EnqueuedAt       time.Time `gorm:"index;not null" json:"enqueued_at"`
	ExpiresAt        time.Time `gorm:"index;not null" json:"expires_at"`
}

func (QueueEntry) TableName() string { return "queue_entries" }

// SetPreferences stores p as the snapshot.
func (e *QueueEntry) SetPreferences(p Preferences) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	e.PrefsSnapshot = datatypes.JSON(raw)
	return nil
}

// Preferences decodes the snapshot. An empty snapshot decodes to zero Preferences.
func (e *QueueEntry) Preferences() (Preferences, error) {
	var p Preferences
	if len(e.PrefsSnapshot) == 0 {
		return p, nil
	}
	err := json.Unmarshal(e.PrefsSnapshot, &p)
	return p, err
}

// Elapsed returns how long the entry has been waiting at now.
func (e *QueueEntry) Elapsed(now time.Time) time.Duration {
	if now.Before(e.EnqueuedAt) {
		return 0
	}
	return now.Sub(e.EnqueuedAt)
}

// Live reports whether the entry is still visible at now.
func (e *QueueEntry) Live(now time.Time) bool {
	return e.ExpiresAt.After(now)
}
