package models_test

import (
	"testing"
	"time"

	"spark/backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// TestSessionBeforeCreate_GeneratesUUID verifies that the hook fills in an id.
func TestSessionBeforeCreate_GeneratesUUID(t *testing.T) {
	// Arrange
	s := &models.Session{HostUID: "host", Status: models.SessionOpen}

	// Act
	err := s.BeforeCreate(nil)

	// Assert
	assert.NoError(t, err)
	_, parseErr := uuid.Parse(s.ID)
	assert.NoError(t, parseErr, "Session ID must be a valid UUID string")
}

// TestSessionBeforeCreate_PreservesExistingID verifies the hook leaves a preset id alone.
func TestSessionBeforeCreate_PreservesExistingID(t *testing.T) {
	s := &models.Session{ID: "fixed"}

	assert.NoError(t, s.BeforeCreate(nil))
	assert.Equal(t, "fixed", s.ID)
}

// TestSessionRoles covers role and partner resolution with and without a guest.
func TestSessionRoles(t *testing.T) {
	guest := "g"
	s := &models.Session{HostUID: "h", Status: models.SessionOpen}

	assert.Equal(t, models.RoleHost, s.RoleOf("h"))
	assert.Equal(t, models.Role(""), s.RoleOf("g"))
	assert.Equal(t, "", s.PartnerOf("h"))
	assert.False(t, s.HasGuest())

	s.GuestUID = &guest
	assert.Equal(t, models.RoleGuest, s.RoleOf("g"))
	assert.Equal(t, "g", s.PartnerOf("h"))
	assert.Equal(t, "h", s.PartnerOf("g"))
	assert.Equal(t, "", s.PartnerOf("stranger"))
	assert.True(t, s.IsOpen())

	now := time.Now()
	s.Status = models.SessionClosed
	s.ClosedAt = &now
	assert.False(t, s.IsOpen())
}

// TestCanonicalPair checks the pair ordering used by chats.
func TestCanonicalPair(t *testing.T) {
	a, b := models.CanonicalPair("zed", "amy")
	assert.Equal(t, "amy", a)
	assert.Equal(t, "zed", b)

	a, b = models.CanonicalPair("amy", "zed")
	assert.Equal(t, "amy", a)
	assert.Equal(t, "zed", b)

	c := &models.Chat{UserAUID: a, UserBUID: b}
	assert.Equal(t, "zed", c.Other("amy"))
	assert.True(t, c.Has("zed"))
	assert.False(t, c.Has("bob"))
}
