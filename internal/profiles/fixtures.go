package profiles

import (
	"fmt"
	"io"
	"os"
	"time"

	"spark/backend/internal/models"

	json "github.com/goccy/go-json"
)

// fixtureUser is one entry of a profile fixture file.
type fixtureUser struct {
	UserID         string                                `json:"user_id"`
	DisplayName    string                                `json:"display_name"`
	Birthdate      string                                `json:"birthdate"`
	Gender         string                                `json:"gender"`
	Location       string                                `json:"location"`
	TelegramChatID *int64                                `json:"telegram_chat_id"`
	Attributes     map[models.Attribute]models.StringList `json:"attributes"`
	Preferences    *models.Preferences                   `json:"preferences"`
}

type fixtureFile struct {
	Users []fixtureUser `json:"users"`
}

// LoadFixtures fills a Static provider from JSON of the form
// {"users": [{"user_id": "...", "birthdate": "1994-05-01", ...}]}.
func LoadFixtures(r io.Reader) (*Static, error) {
	var f fixtureFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode profile fixtures: %w", err)
	}

	s := NewStatic()
	for i, u := range f.Users {
		if u.UserID == "" {
			return nil, fmt.Errorf("profile fixture %d: user_id is required", i)
		}
		p := models.Profile{
			UserID:         u.UserID,
			DisplayName:    u.DisplayName,
			Gender:         u.Gender,
			Location:       u.Location,
			TelegramChatID: u.TelegramChatID,
		}
		if u.Birthdate != "" {
			born, err := time.Parse(time.DateOnly, u.Birthdate)
			if err != nil {
				return nil, fmt.Errorf("profile fixture %s: birthdate: %w", u.UserID, err)
			}
			p.Birthdate = &born
		}
		if len(u.Attributes) > 0 {
			p.Attributes = make(map[models.Attribute][]string, len(u.Attributes))
			for attr, values := range u.Attributes {
				p.Attributes[attr] = []string(values)
			}
		}
		s.PutProfile(p)
		if u.Preferences != nil {
			s.PutPreferences(u.UserID, *u.Preferences)
		}
	}
	return s, nil
}

// LoadFixtureFile reads LoadFixtures input from path.
func LoadFixtureFile(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profile fixtures: %w", err)
	}
	defer f.Close()
	return LoadFixtures(f)
}
