// Package options maps profile enum values between their display names and
// the opaque keys stored on profile rows.
package options

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"spark/backend/internal/models"

	"gorm.io/gorm"
)

// ErrUnknownOption is returned when a name or key does not exist for a kind.
var ErrUnknownOption = errors.New("unknown option")

// Kind identifies one lookup table.
type Kind string

const (
	KindGender            Kind = "gender"
	KindMode              Kind = "mode"
	KindRelationshipGoal  Kind = "relationship_goal"
	KindPersonalityType   Kind = "personality_type"
	KindLoveLanguage      Kind = "love_language"
	KindAttachmentStyle   Kind = "attachment_style"
	KindPoliticalView     Kind = "political_view"
	KindZodiacSign        Kind = "zodiac_sign"
	KindReligion          Kind = "religion"
	KindDiet              Kind = "diet"
	KindExerciseFrequency Kind = "exercise_frequency"
	KindSmokeFrequency    Kind = "smoke_frequency"
	KindDrinkFrequency    Kind = "drink_frequency"
	KindSleepSchedule     Kind = "sleep_schedule"
	KindPronoun           Kind = "pronoun"
	KindLanguage          Kind = "language"
	KindInterest          Kind = "interest"
	KindPet               Kind = "pet"
	KindOrientation       Kind = "orientation"
)

var tables = map[Kind]string{
	KindGender:            "genders",
	KindMode:              "modes",
	KindRelationshipGoal:  "relationship_goals",
	KindPersonalityType:   "personality_types",
	KindLoveLanguage:      "love_languages",
	KindAttachmentStyle:   "attachment_styles",
	KindPoliticalView:     "political_views",
	KindZodiacSign:        "zodiac_signs",
	KindReligion:          "religions",
	KindDiet:              "diets",
	KindExerciseFrequency: "exercise_frequencies",
	KindSmokeFrequency:    "smoke_frequencies",
	KindDrinkFrequency:    "drink_frequencies",
	KindSleepSchedule:     "sleep_schedules",
	KindPronoun:           "pronouns",
	KindLanguage:          "languages",
	KindInterest:          "interests",
	KindPet:               "pets",
	KindOrientation:       "orientations",
}

// Table returns the lookup table name, or "" for an unknown kind.
func (k Kind) Table() string { return tables[k] }

// KindFor returns the lookup kind behind a filter attribute. Free-text
// attributes (drug/weed use, school) have none.
func KindFor(attr models.Attribute) (Kind, bool) {
	switch attr {
	case models.AttrInterests:
		return KindInterest, true
	case models.AttrLanguagesSpoken:
		return KindLanguage, true
	case models.AttrPets:
		return KindPet, true
	case models.AttrDrugUse, models.AttrWeedUse, models.AttrSchool:
		return "", false
	}
	k := Kind(attr)
	_, ok := tables[k]
	return k, ok
}

// Option is one row of a lookup table.
type Option struct {
	ID   string `gorm:"primaryKey" json:"id"`
	Name string `gorm:"not null" json:"name"`
}

// Lookup resolves option names and keys.
type Lookup interface {
	// Resolve returns the key for name (case-insensitive).
	Resolve(ctx context.Context, kind Kind, name string) (string, error)
	// Name returns the display name for key.
	Name(ctx context.Context, kind Kind, id string) (string, error)
}

// cache is a per-kind bidirectional map shared by both Lookup implementations.
type cache struct {
	mu     sync.RWMutex
	byID   map[Kind]map[string]string
	byName map[Kind]map[string]string
}

func newCache() *cache {
	return &cache{byID: map[Kind]map[string]string{}, byName: map[Kind]map[string]string{}}
}

func (c *cache) put(kind Kind, opt Option) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byID[kind] == nil {
		c.byID[kind] = map[string]string{}
		c.byName[kind] = map[string]string{}
	}
	c.byID[kind][opt.ID] = opt.Name
	c.byName[kind][normalize(opt.Name)] = opt.ID
}

func (c *cache) id(kind Kind, name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[kind][normalize(name)]
	return id, ok
}

func (c *cache) name(kind Kind, id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.byID[kind][id]
	return name, ok
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Static is an in-memory Lookup.
type Static struct {
	c *cache
}

// NewStatic builds a Lookup from fixed option lists.
func NewStatic(opts map[Kind][]Option) *Static {
	s := &Static{c: newCache()}
	for kind, list := range opts {
		for _, o := range list {
			s.c.put(kind, o)
		}
	}
	return s
}

func (s *Static) Resolve(_ context.Context, kind Kind, name string) (string, error) {
	if id, ok := s.c.id(kind, name); ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: %s %q", ErrUnknownOption, kind, name)
}

func (s *Static) Name(_ context.Context, kind Kind, id string) (string, error) {
	if name, ok := s.c.name(kind, id); ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: %s key %q", ErrUnknownOption, kind, id)
}

// GormLookup reads lookup tables through gorm and caches every hit.
// Lookup tables are append-only, so entries never go stale.
type GormLookup struct {
	DB *gorm.DB
	c  *cache
}

func NewGormLookup(db *gorm.DB) *GormLookup {
	return &GormLookup{DB: db, c: newCache()}
}

func (l *GormLookup) Resolve(ctx context.Context, kind Kind, name string) (string, error) {
	if id, ok := l.c.id(kind, name); ok {
		return id, nil
	}
	opt, err := l.find(ctx, kind, "LOWER(name) = ?", normalize(name))
	if err != nil {
		return "", err
	}
	return opt.ID, nil
}

func (l *GormLookup) Name(ctx context.Context, kind Kind, id string) (string, error) {
	if name, ok := l.c.name(kind, id); ok {
		return name, nil
	}
	opt, err := l.find(ctx, kind, "id = ?", id)
	if err != nil {
		return "", err
	}
	return opt.Name, nil
}

func (l *GormLookup) find(ctx context.Context, kind Kind, query string, arg string) (*Option, error) {
	table := kind.Table()
	if table == "" {
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownOption, kind)
	}
	var opt Option
	err := l.DB.WithContext(ctx).Table(table).Where(query, arg).First(&opt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s %q", ErrUnknownOption, kind, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", table, err)
	}
	l.c.put(kind, opt)
	return &opt, nil
}
