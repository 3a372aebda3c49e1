package profiles

import (
	"context"
	"sync"

	"spark/backend/internal/models"
)

// Static is an in-memory Provider used by the memory storage driver and tests.
type Static struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
	prefs    map[string]models.Preferences
}

func NewStatic() *Static {
	return &Static{
		profiles: make(map[string]models.Profile),
		prefs:    make(map[string]models.Preferences),
	}
}

// PutProfile stores or replaces a profile.
func (s *Static) PutProfile(p models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

// PutPreferences stores or replaces the preferences of uid.
func (s *Static) PutPreferences(uid string, p models.Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[uid] = p
}

func (s *Static) GetPreferences(_ context.Context, uid string) (*models.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[uid]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *Static) GetProfile(_ context.Context, uid string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[uid]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *Static) UserExists(_ context.Context, uid string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.profiles[uid]
	return ok, nil
}
