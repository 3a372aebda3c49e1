package models

import (
	"time"

	"github.com/lib/pq"
)

// Profile is the matching-relevant view of a user, with option keys already
// resolved to their display names.
type Profile struct {
	UserID      string
	DisplayName string
	// Birthdate is nil when the user never set it.
	Birthdate *time.Time
	Gender    string
	// Location is free-form: a JSON object or "lat,lon".
	Location       string
	TelegramChatID *int64
	// Attributes holds the values compared by the extra-option filters.
	Attributes map[Attribute][]string
}

// ProfileRecord is the stored profile row. Enum-like fields hold opaque
// lookup keys into the option tables.
type ProfileRecord struct {
	UserID         string `gorm:"primaryKey"`
	DisplayName    string
	Birthdate      *time.Time `gorm:"type:date"`
	GenderID       *string
	Location       string
	TelegramChatID *int64

	RelationshipGoalID  *string
	PersonalityTypeID   *string
	LoveLanguageID      *string
	AttachmentStyleID   *string
	PoliticalViewID     *string
	ZodiacSignID        *string
	ReligionID          *string
	DietID              *string
	ExerciseFrequencyID *string
	SmokeFrequencyID    *string
	DrinkFrequencyID    *string
	SleepScheduleID     *string

	DrugUse     string
	WeedUse     string
	School      string
	InterestIDs pq.StringArray `gorm:"type:text[]"`
	LanguageIDs pq.StringArray `gorm:"type:text[]"`
	PetIDs      pq.StringArray `gorm:"type:text[]"`
}

func (ProfileRecord) TableName() string { return "profiles" }
