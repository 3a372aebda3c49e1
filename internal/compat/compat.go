// Package compat decides whether two users accept each other.
//
// The predicate is symmetric: each side's preferences are applied to the
// other side's profile, and both directions must pass. Checks run in order
// (gender, age, distance, extra options) and stop at the first failure.
package compat

import (
	"strings"
	"time"

	"spark/backend/internal/geo"
	"spark/backend/internal/models"
)

// Evaluator is safe for concurrent use.
type Evaluator struct {
	// Now is the reference time for ages. Defaults to time.Now.
	Now func() time.Time
}

func NewEvaluator() *Evaluator {
	return &Evaluator{Now: time.Now}
}

// IsCompatible reports whether host and guest accept each other.
func (e *Evaluator) IsCompatible(hostPrefs, guestPrefs models.Preferences, hostProfile, guestProfile *models.Profile) bool {
	return e.Check(hostPrefs, guestPrefs, hostProfile, guestProfile) == ""
}

// Reason names the first failing check; "" means compatible.
type Reason string

const (
	ReasonProfile  Reason = "profile"
	ReasonGender   Reason = "gender"
	ReasonAge      Reason = "age"
	ReasonDistance Reason = "distance"
	ReasonOptions  Reason = "extra_options"
)

// Check is IsCompatible with the failing check reported.
func (e *Evaluator) Check(hostPrefs, guestPrefs models.Preferences, hostProfile, guestProfile *models.Profile) Reason {
	if hostProfile == nil || guestProfile == nil {
		return ReasonProfile
	}

	if !genderAccepts(hostPrefs.TargetGender, guestProfile.Gender) ||
		!genderAccepts(guestPrefs.TargetGender, hostProfile.Gender) {
		return ReasonGender
	}

	now := e.now()
	if !ageAccepts(hostPrefs, AgeOn(guestProfile.Birthdate, now)) ||
		!ageAccepts(guestPrefs, AgeOn(hostProfile.Birthdate, now)) {
		return ReasonAge
	}

	if !distanceAccepts(hostPrefs, guestPrefs, hostProfile.Location, guestProfile.Location) {
		return ReasonDistance
	}

	if !optionsAccept(hostPrefs.ExtraOptions, guestProfile) ||
		!optionsAccept(guestPrefs.ExtraOptions, hostProfile) {
		return ReasonOptions
	}
	return ""
}

func (e *Evaluator) now() time.Time {
	if e == nil || e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// AgeOn returns the age in whole years at now; 0 when birthdate is unknown.
// The age increments on the birthday itself.
func AgeOn(birthdate *time.Time, now time.Time) int {
	if birthdate == nil || birthdate.IsZero() {
		return 0
	}
	by, bm, bd := birthdate.Date()
	age := now.Year() - by
	if now.Month() < bm || (now.Month() == bm && now.Day() < bd) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// genderAccepts skips the check when the other side never set a gender,
// the same way an unknown birthdate or location is skipped.
func genderAccepts(target, actual string) bool {
	target = strings.ToLower(strings.TrimSpace(target))
	actual = strings.ToLower(strings.TrimSpace(actual))
	if target == "" || target == "any" || actual == "" {
		return true
	}
	return target == actual
}

func ageAccepts(prefs models.Preferences, age int) bool {
	if age == 0 {
		return true
	}
	return age >= prefs.AgeMin && age <= prefs.AgeMax
}

func distanceAccepts(hostPrefs, guestPrefs models.Preferences, hostLoc, guestLoc string) bool {
	a, err := geo.ParseLocation(hostLoc)
	if err != nil {
		return true
	}
	b, err := geo.ParseLocation(guestLoc)
	if err != nil {
		return true
	}
	d := geo.DistanceMiles(a, b)
	return d <= hostPrefs.DistanceLimit() && d <= guestPrefs.DistanceLimit()
}

func optionsAccept(filters models.ExtraOptions, other *models.Profile) bool {
	for _, attr := range models.FilterAttributes {
		want := filters[attr].Normalized()
		if len(want) == 0 {
			continue
		}
		if !intersects(want, normalize(other.Attributes[attr])) {
			return false
		}
	}
	return true
}

func normalize(values []string) []string {
	return models.StringList(values).Normalized()
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}
