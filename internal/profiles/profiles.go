// Package profiles reads the profile and preference data the matchmaker
// consumes. Profile editing lives elsewhere; this package is read-only.
package profiles

import (
	"context"
	"errors"
	"fmt"

	"spark/backend/internal/logging"
	"spark/backend/internal/models"
	"spark/backend/internal/options"

	json "github.com/goccy/go-json"
	"gorm.io/gorm"
)

// ErrNotFound is returned when the user has no profile or no saved preferences.
var ErrNotFound = errors.New("profile data not found")

// Provider is the read side of the profile service.
type Provider interface {
	GetPreferences(ctx context.Context, uid string) (*models.Preferences, error)
	GetProfile(ctx context.Context, uid string) (*models.Profile, error)
	UserExists(ctx context.Context, uid string) (bool, error)
}

// Repo is the gorm-backed Provider. Option keys on stored rows are resolved
// to names through Options.
type Repo struct {
	DB      *gorm.DB
	Options options.Lookup
}

func NewRepo(db *gorm.DB, lookup options.Lookup) *Repo {
	return &Repo{DB: db, Options: lookup}
}

func (r *Repo) GetPreferences(ctx context.Context, uid string) (*models.Preferences, error) {
	var rec models.PreferenceRecord
	err := r.DB.WithContext(ctx).Where("user_id = ?", uid).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load preferences %s: %w", uid, err)
	}

	prefs := &models.Preferences{
		TargetGender: "any",
		AgeMin:       rec.AgeMin,
		AgeMax:       rec.AgeMax,
		MaxDistance:  rec.MaxDistance,
	}
	if rec.TargetGenderID != nil {
		prefs.TargetGender = r.name(ctx, options.KindGender, *rec.TargetGenderID)
	}
	if len(rec.ExtraOptions) > 0 {
		if err := json.Unmarshal(rec.ExtraOptions, &prefs.ExtraOptions); err != nil {
			logging.Warn().Err(err).Str("uid", uid).Msg("ignoring malformed extra_options")
		}
	}
	return prefs, nil
}

func (r *Repo) GetProfile(ctx context.Context, uid string) (*models.Profile, error) {
	var rec models.ProfileRecord
	err := r.DB.WithContext(ctx).Where("user_id = ?", uid).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", uid, err)
	}
	return r.resolve(ctx, &rec), nil
}

func (r *Repo) UserExists(ctx context.Context, uid string) (bool, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.ProfileRecord{}).Where("user_id = ?", uid).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check user %s: %w", uid, err)
	}
	return n > 0, nil
}

func (r *Repo) resolve(ctx context.Context, rec *models.ProfileRecord) *models.Profile {
	p := &models.Profile{
		UserID:         rec.UserID,
		DisplayName:    rec.DisplayName,
		Birthdate:      rec.Birthdate,
		Location:       rec.Location,
		TelegramChatID: rec.TelegramChatID,
		Attributes:     make(map[models.Attribute][]string),
	}
	if rec.GenderID != nil {
		p.Gender = r.name(ctx, options.KindGender, *rec.GenderID)
	}

	single := map[models.Attribute]*string{
		models.AttrRelationshipGoal:  rec.RelationshipGoalID,
		models.AttrPersonalityType:   rec.PersonalityTypeID,
		models.AttrLoveLanguage:      rec.LoveLanguageID,
		models.AttrAttachmentStyle:   rec.AttachmentStyleID,
		models.AttrPoliticalView:     rec.PoliticalViewID,
		models.AttrZodiacSign:        rec.ZodiacSignID,
		models.AttrReligion:          rec.ReligionID,
		models.AttrDiet:              rec.DietID,
		models.AttrExerciseFrequency: rec.ExerciseFrequencyID,
		models.AttrSmokeFrequency:    rec.SmokeFrequencyID,
		models.AttrDrinkFrequency:    rec.DrinkFrequencyID,
		models.AttrSleepSchedule:     rec.SleepScheduleID,
	}
	for attr, id := range single {
		if id == nil {
			continue
		}
		kind, _ := options.KindFor(attr)
		if name := r.name(ctx, kind, *id); name != "" {
			p.Attributes[attr] = []string{name}
		}
	}

	multi := map[models.Attribute][]string{
		models.AttrInterests:       rec.InterestIDs,
		models.AttrLanguagesSpoken: rec.LanguageIDs,
		models.AttrPets:            rec.PetIDs,
	}
	for attr, ids := range multi {
		kind, _ := options.KindFor(attr)
		for _, id := range ids {
			if name := r.name(ctx, kind, id); name != "" {
				p.Attributes[attr] = append(p.Attributes[attr], name)
			}
		}
	}

	for attr, v := range map[models.Attribute]string{
		models.AttrDrugUse: rec.DrugUse,
		models.AttrWeedUse: rec.WeedUse,
		models.AttrSchool:  rec.School,
	} {
		if v != "" {
			p.Attributes[attr] = []string{v}
		}
	}
	return p
}

// name resolves a key, returning "" for keys the lookup does not know.
func (r *Repo) name(ctx context.Context, kind options.Kind, id string) string {
	if r.Options == nil || id == "" {
		return ""
	}
	name, err := r.Options.Name(ctx, kind, id)
	if err != nil {
		logging.Debug().Err(err).Str("kind", string(kind)).Msg("option key not resolved")
		return ""
	}
	return name
}
