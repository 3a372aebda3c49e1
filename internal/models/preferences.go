package models

import (
	"math"

	"gorm.io/datatypes"
)

// Preferences is what a user is looking for. The same shape is snapshotted
// into the queue on Join.
type Preferences struct {
	TargetGender string `json:"target_gender"`
	AgeMin       int    `json:"age_min"`
	AgeMax       int    `json:"age_max"`
	// MaxDistance in miles; zero or negative means no limit.
	MaxDistance  float64      `json:"max_distance"`
	ExtraOptions ExtraOptions `json:"extra_options,omitempty"`
}

// DistanceLimit returns MaxDistance, or +Inf when unset.
func (p Preferences) DistanceLimit() float64 {
	if p.MaxDistance <= 0 {
		return math.Inf(1)
	}
	return p.MaxDistance
}

// PreferenceRecord is the stored row behind Preferences. The target gender
// is kept as a lookup key and resolved to its name on read.
type PreferenceRecord struct {
	UserID         string `gorm:"primaryKey"`
	TargetGenderID *string
	AgeMin         int
	AgeMax         int
	MaxDistance    float64
	// ExtraOptions is the JSON encoding of models.ExtraOptions.
	ExtraOptions datatypes.JSON `gorm:"type:jsonb"`
}

func (PreferenceRecord) TableName() string { return "preferences" }
