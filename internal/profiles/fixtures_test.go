package profiles_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"spark/backend/internal/models"
	"spark/backend/internal/profiles"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureJSON = `{
  "users": [
    {
      "user_id": "ann",
      "display_name": "Ann",
      "birthdate": "1994-05-01",
      "gender": "female",
      "location": "50.45,30.52",
      "telegram_chat_id": 42,
      "attributes": {"smoking": "never"},
      "preferences": {"target_gender": "male", "age_min": 25, "age_max": 40}
    },
    {"user_id": "bob", "display_name": "Bob"}
  ]
}`

// TestLoadFixtures seeds profiles and preferences for the memory driver.
func TestLoadFixtures(t *testing.T) {
	// Arrange
	ctx := context.Background()

	// Act
	p, err := profiles.LoadFixtures(strings.NewReader(fixtureJSON))

	// Assert
	require.NoError(t, err)
	ann, err := p.GetProfile(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, "Ann", ann.DisplayName)
	require.NotNil(t, ann.Birthdate)
	assert.Equal(t, time.Date(1994, 5, 1, 0, 0, 0, 0, time.UTC), *ann.Birthdate)
	require.NotNil(t, ann.TelegramChatID)
	assert.Equal(t, int64(42), *ann.TelegramChatID)
	assert.Equal(t, []string{"never"}, ann.Attributes[models.Attribute("smoking")])

	prefs, err := p.GetPreferences(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, "male", prefs.TargetGender)
	assert.Equal(t, 25, prefs.AgeMin)

	bob, err := p.GetProfile(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, bob.Birthdate)
	_, err = p.GetPreferences(ctx, "bob")
	assert.ErrorIs(t, err, profiles.ErrNotFound)
}

// TestLoadFixturesRejectsBadInput reports the broken entry.
func TestLoadFixturesRejectsBadInput(t *testing.T) {
	_, err := profiles.LoadFixtures(strings.NewReader(`{"users":[{"display_name":"x"}]}`))
	assert.ErrorContains(t, err, "user_id is required")

	_, err = profiles.LoadFixtures(strings.NewReader(`{"users":[{"user_id":"a","birthdate":"01/05/1994"}]}`))
	assert.ErrorContains(t, err, "birthdate")

	_, err = profiles.LoadFixtures(strings.NewReader(`{"users":`))
	assert.Error(t, err)
}

// TestLoadFixtureFile reads the fixtures from disk.
func TestLoadFixtureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	require.NoError(t, os.WriteFile(path, []byte(fixtureJSON), 0o600))

	p, err := profiles.LoadFixtureFile(path)
	require.NoError(t, err)
	ok, err := p.UserExists(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = profiles.LoadFixtureFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
