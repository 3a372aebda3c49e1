package matchmaking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spark/backend/internal/config"
	"spark/backend/internal/history"
	"spark/backend/internal/matchmaking"
	"spark/backend/internal/models"
	"spark/backend/internal/profiles"
	"spark/backend/internal/storage"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sent struct {
	uid     string
	event   string
	payload any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recordingNotifier) Notify(_ context.Context, uid, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{uid: uid, event: event, payload: payload})
}

func (r *recordingNotifier) count(uid, event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.uid == uid && s.event == event {
			n++
		}
	}
	return n
}

func (r *recordingNotifier) last(uid, event string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].uid == uid && r.sent[i].event == event {
			return r.sent[i].payload
		}
	}
	return nil
}

type env struct {
	ctx      context.Context
	store    *storage.MemoryStore
	profiles *profiles.Static
	clock    *fakeClock
	notifier *recordingNotifier
	sessions *matchmaking.SessionService
	matcher  *matchmaking.MatcherService
	chats    *matchmaking.ChatService
	cfg      config.MatchmakingConfig
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		ctx:      context.Background(),
		store:    storage.NewMemoryStore(),
		profiles: profiles.NewStatic(),
		clock:    &fakeClock{t: epoch},
		notifier: &recordingNotifier{},
		cfg:      config.Default().Matchmaking,
	}

	e.sessions = matchmaking.NewSessionService(e.store, e.profiles, e.cfg)
	e.sessions.Notifier = e.notifier
	e.sessions.Now = e.clock.Now

	guard := history.NewGuard(e.store, e.cfg.Cooldown)
	guard.Now = e.clock.Now

	e.matcher = matchmaking.NewMatcherService(e.store, e.profiles, guard, e.sessions, e.cfg)
	e.matcher.Now = e.clock.Now
	e.matcher.Evaluator.Now = e.clock.Now

	e.chats = matchmaking.NewChatService(e.store, e.cfg)
	e.chats.Notifier = e.notifier
	e.chats.Now = e.clock.Now
	return e
}

// user registers a profile aged 30 with the given gender; target is the
// gender they look for ("" leaves preferences unset).
func (e *env) user(uid, name, gender, target string) {
	born := epoch.AddDate(-30, 0, 0)
	e.profiles.PutProfile(models.Profile{
		UserID:      uid,
		DisplayName: name,
		Gender:      gender,
		Birthdate:   &born,
	})
	if target != "" {
		e.profiles.PutPreferences(uid, models.Preferences{TargetGender: target, AgeMin: 18, AgeMax: 99})
	}
}

func (e *env) join(t *testing.T, uid string) *models.QueueEntry {
	t.Helper()
	entry, err := e.matcher.Join(e.ctx, uid, "")
	require.NoError(t, err)
	return entry
}

func (e *env) poll(t *testing.T, uid string) *matchmaking.PollResult {
	t.Helper()
	res, err := e.matcher.Poll(e.ctx, uid)
	require.NoError(t, err)
	return res
}

func (e *env) queued(uid string) bool {
	_, err := e.store.GetQueueEntry(e.ctx, uid, e.clock.Now())
	return err == nil
}

// pair seats host and guest in one session directly.
func (e *env) pair(t *testing.T, host, guest string) *models.Session {
	t.Helper()
	sess, err := e.sessions.CreateAsHost(e.ctx, host, nil)
	require.NoError(t, err)
	sess, err = e.sessions.ClaimGuestSlot(e.ctx, sess.ID, guest)
	require.NoError(t, err)
	return sess
}

type failingRequeuer struct{}

func (failingRequeuer) Requeue(context.Context, string, *string) error {
	return errors.New("queue unavailable")
}
