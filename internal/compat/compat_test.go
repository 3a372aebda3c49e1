package compat_test

import (
	"fmt"
	"math"
	"testing"
	"time"

	"spark/backend/internal/compat"
	"spark/backend/internal/geo"
	"spark/backend/internal/models"

	"github.com/stretchr/testify/assert"
)

var refNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func newEvaluator() *compat.Evaluator {
	return &compat.Evaluator{Now: func() time.Time { return refNow }}
}

// bornYearsAgo returns a birthdate that makes the user exactly n on refNow.
func bornYearsAgo(n int) *time.Time {
	b := time.Date(refNow.Year()-n, refNow.Month(), refNow.Day(), 0, 0, 0, 0, time.UTC)
	return &b
}

func openPrefs() models.Preferences {
	return models.Preferences{TargetGender: "any", AgeMin: 18, AgeMax: 99}
}

func profile(uid, gender string, age int) *models.Profile {
	return &models.Profile{UserID: uid, Gender: gender, Birthdate: bornYearsAgo(age)}
}

// TestGenderIsCheckedBothWays verifies that one failing direction is enough to reject.
func TestGenderIsCheckedBothWays(t *testing.T) {
	e := newEvaluator()
	host := profile("h", "female", 30)
	guest := profile("g", "male", 30)

	hostPrefs := openPrefs()
	hostPrefs.TargetGender = "female"

	assert.False(t, e.IsCompatible(hostPrefs, openPrefs(), host, guest))
	assert.Equal(t, compat.ReasonGender, e.Check(hostPrefs, openPrefs(), host, guest))

	guestPrefs := openPrefs()
	guestPrefs.TargetGender = " MALE "
	assert.False(t, e.IsCompatible(openPrefs(), guestPrefs, host, guest))

	guestPrefs.TargetGender = "Female"
	assert.True(t, e.IsCompatible(openPrefs(), guestPrefs, host, guest))
}

// TestGenderWildcards treats empty and "any" as accepting everyone, and skips
// the check against a profile without a gender.
func TestGenderWildcards(t *testing.T) {
	e := newEvaluator()
	host := profile("h", "nonbinary", 30)
	guest := profile("g", "", 30)

	prefs := openPrefs()
	prefs.TargetGender = ""
	assert.True(t, e.IsCompatible(prefs, openPrefs(), host, guest))

	prefs.TargetGender = "any"
	assert.True(t, e.IsCompatible(prefs, openPrefs(), host, guest))

	prefs.TargetGender = "female"
	assert.Equal(t, compat.Reason(""), e.Check(prefs, openPrefs(), host, guest), "unknown gender is not filtered")

	// a known gender still has to match
	assert.Equal(t, compat.ReasonGender, e.Check(prefs, openPrefs(), host, profile("g2", "male", 30)))
}

// TestAgeBoundary accepts age == age_max and rejects age_max+1.
func TestAgeBoundary(t *testing.T) {
	e := newEvaluator()
	hostPrefs := models.Preferences{AgeMin: 25, AgeMax: 35}
	host := profile("h", "f", 30)

	assert.True(t, e.IsCompatible(hostPrefs, openPrefs(), host, profile("g", "m", 35)))
	assert.False(t, e.IsCompatible(hostPrefs, openPrefs(), host, profile("g", "m", 36)))
	assert.True(t, e.IsCompatible(hostPrefs, openPrefs(), host, profile("g", "m", 25)))
	assert.False(t, e.IsCompatible(hostPrefs, openPrefs(), host, profile("g", "m", 24)))
}

// TestAgeSkippedWhenUnknown skips the filter for a side without a birthdate.
func TestAgeSkippedWhenUnknown(t *testing.T) {
	e := newEvaluator()
	hostPrefs := models.Preferences{AgeMin: 25, AgeMax: 35}
	guest := &models.Profile{UserID: "g"}

	assert.True(t, e.IsCompatible(hostPrefs, openPrefs(), profile("h", "f", 30), guest))
}

// TestAgeOn increments on the birthday, not before.
func TestAgeOn(t *testing.T) {
	b := time.Date(2000, 6, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 26, compat.AgeOn(&b, refNow))
	assert.Equal(t, 25, compat.AgeOn(&b, refNow.AddDate(0, 0, -1)))
	assert.Equal(t, 0, compat.AgeOn(nil, refNow))
	future := refNow.AddDate(1, 0, 0)
	assert.Equal(t, 0, compat.AgeOn(&future, refNow))
}

// TestDistanceBoundary checks a point about 50 miles north of NYC.
func TestDistanceBoundary(t *testing.T) {
	e := newEvaluator()
	offset := 49.99 / geo.EarthRadiusMiles * 180 / math.Pi
	host := profile("h", "f", 30)
	host.Location = "40.7128,-74.0060"
	guest := profile("g", "m", 30)
	guest.Location = fmt.Sprintf(`{"lat": %f, "lng": -74.0060}`, 40.7128+offset)

	within := openPrefs()
	within.MaxDistance = 50
	tooShort := openPrefs()
	tooShort.MaxDistance = 49

	assert.True(t, e.IsCompatible(within, openPrefs(), host, guest))
	assert.False(t, e.IsCompatible(within, tooShort, host, guest))
	assert.Equal(t, compat.ReasonDistance, e.Check(tooShort, within, host, guest))
}

// TestDistanceSkippedForUnparseableLocation treats bad locations as compatible.
func TestDistanceSkippedForUnparseableLocation(t *testing.T) {
	e := newEvaluator()
	host := profile("h", "f", 30)
	host.Location = "somewhere nice"
	guest := profile("g", "m", 30)
	guest.Location = "0,0"

	strict := openPrefs()
	strict.MaxDistance = 1
	assert.True(t, e.IsCompatible(strict, strict, host, guest))
}

// TestExtraOptionsOverlap requires at least one shared value per non-empty filter.
func TestExtraOptionsOverlap(t *testing.T) {
	e := newEvaluator()
	host := profile("h", "f", 30)
	host.Attributes = map[models.Attribute][]string{models.AttrInterests: {"Hiking"}}
	guest := profile("g", "m", 30)
	guest.Attributes = map[models.Attribute][]string{
		models.AttrInterests:        {"jazz", "HIKING"},
		models.AttrRelationshipGoal: {"Long-term"},
	}

	hostPrefs := openPrefs()
	hostPrefs.ExtraOptions = models.ExtraOptions{
		models.AttrInterests:        {"hiking", "chess"},
		models.AttrRelationshipGoal: {"long-term"},
		models.AttrPets:             {},
	}
	assert.True(t, e.IsCompatible(hostPrefs, openPrefs(), host, guest))

	hostPrefs.ExtraOptions[models.AttrRelationshipGoal] = models.StringList{"casual"}
	assert.False(t, e.IsCompatible(hostPrefs, openPrefs(), host, guest))

	// the guest's filter applies to the host's profile independently
	guestPrefs := openPrefs()
	guestPrefs.ExtraOptions = models.ExtraOptions{models.AttrSchool: {"MIT"}}
	assert.Equal(t, compat.ReasonOptions, e.Check(openPrefs(), guestPrefs, host, guest))
}

func TestMissingProfileIsIncompatible(t *testing.T) {
	e := newEvaluator()
	assert.False(t, e.IsCompatible(openPrefs(), openPrefs(), nil, profile("g", "m", 30)))
}
