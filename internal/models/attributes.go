package models

import (
	"strings"

	json "github.com/goccy/go-json"
)

// Attribute names a profile field that can carry an extra-option filter.
type Attribute string

const (
	AttrRelationshipGoal  Attribute = "relationship_goal"
	AttrPersonalityType   Attribute = "personality_type"
	AttrLoveLanguage      Attribute = "love_language"
	AttrAttachmentStyle   Attribute = "attachment_style"
	AttrPoliticalView     Attribute = "political_view"
	AttrZodiacSign        Attribute = "zodiac_sign"
	AttrReligion          Attribute = "religion"
	AttrDiet              Attribute = "diet"
	AttrExerciseFrequency Attribute = "exercise_frequency"
	AttrSmokeFrequency    Attribute = "smoke_frequency"
	AttrDrinkFrequency    Attribute = "drink_frequency"
	AttrSleepSchedule     Attribute = "sleep_schedule"
	AttrDrugUse           Attribute = "drug_use"
	AttrWeedUse           Attribute = "weed_use"
	AttrInterests         Attribute = "interests"
	AttrLanguagesSpoken   Attribute = "languages_spoken"
	AttrPets              Attribute = "pets"
	AttrSchool            Attribute = "school"
)

// FilterAttributes is the fixed, ordered set of attributes checked by the
// extra-option overlap filters.
var FilterAttributes = []Attribute{
	AttrRelationshipGoal,
	AttrPersonalityType,
	AttrLoveLanguage,
	AttrAttachmentStyle,
	AttrPoliticalView,
	AttrZodiacSign,
	AttrReligion,
	AttrDiet,
	AttrExerciseFrequency,
	AttrSmokeFrequency,
	AttrDrinkFrequency,
	AttrSleepSchedule,
	AttrDrugUse,
	AttrWeedUse,
	AttrInterests,
	AttrLanguagesSpoken,
	AttrPets,
	AttrSchool,
}

// StringList decodes from either a JSON string or a JSON array of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if strings.TrimSpace(single) == "" {
			*l = nil
		} else {
			*l = StringList{single}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// Normalized returns the trimmed, lowercased, non-empty values.
func (l StringList) Normalized() []string {
	out := make([]string, 0, len(l))
	for _, v := range l {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ExtraOptions holds optional per-attribute filters, e.g.
// {"interests": ["hiking", "jazz"], "school": "MIT"}.
type ExtraOptions map[Attribute]StringList
