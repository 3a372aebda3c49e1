// Package matchmaking pairs queued users into sessions.
//
// Matching is driven by clients polling: every Poll is a short, bounded unit
// of work against the shared store, and all exclusivity (one queue row per
// user, one open session per user, one guest per session) is enforced by the
// store's atomic operations rather than in-process locks.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spark/backend/internal/compat"
	"spark/backend/internal/config"
	"spark/backend/internal/events"
	"spark/backend/internal/history"
	"spark/backend/internal/logging"
	"spark/backend/internal/models"
	"spark/backend/internal/observability"
	"spark/backend/internal/options"
	"spark/backend/internal/profiles"
	"spark/backend/internal/storage"
	"spark/backend/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PollStatus is the outcome of one Poll. It is never persisted.
type PollStatus string

const (
	StatusSearching PollStatus = "searching"
	StatusFound     PollStatus = "found"
	StatusTimeout   PollStatus = "timeout"
	StatusCancelled PollStatus = "cancelled"
)

// UserState is the coarse state reported by GetState.
type UserState string

const (
	StateIdle      UserState = "idle"
	StateSearching UserState = "searching"
	StateInSession UserState = "in_session"
)

// PollResult is returned to polling clients.
//
// A host whose session has no guest yet keeps getting StatusTimeout with
// RoleHost, their Session and PollAgainIn; it turns into StatusFound once a
// guest takes the seat. Clients should show the waiting room on that
// combination rather than treat it as a failed search.
type PollResult struct {
	Status        PollStatus      `json:"status"`
	Role          models.Role     `json:"role,omitempty"`
	Session       *models.Session `json:"session,omitempty"`
	TimeElapsed   *float64        `json:"time_elapsed,omitempty"`
	TimeRemaining *float64        `json:"time_remaining,omitempty"`
	PollAgainIn   *float64        `json:"poll_again_in,omitempty"`
}

// State is returned by GetState.
type State struct {
	State         UserState          `json:"state"`
	Queue         *models.QueueEntry `json:"queue,omitempty"`
	Session       *models.Session    `json:"session,omitempty"`
	Role          models.Role        `json:"role,omitempty"`
	PartnerUID    string             `json:"partner_uid,omitempty"`
	PartnerName   string             `json:"partner_name,omitempty"`
	TimeElapsed   *float64           `json:"time_elapsed,omitempty"`
	TimeRemaining *float64           `json:"time_remaining,omitempty"`
	PollAgainIn   *float64           `json:"poll_again_in,omitempty"`
}

// ClientConfig tells clients how to drive the polling loop.
type ClientConfig struct {
	TimeoutSeconds      float64 `json:"timeout_seconds"`
	PollIntervalSeconds float64 `json:"poll_interval_seconds"`
}

// MatcherService is the matchmaking orchestrator.
type MatcherService struct {
	Storage   storage.Storage
	Profiles  profiles.Provider
	Options   options.Lookup
	Evaluator *compat.Evaluator
	Guard     *history.Guard
	Sessions  *SessionService
	Notifier  Notifier
	Events    *events.Emitter
	Config    config.MatchmakingConfig
	Now       func() time.Time
}

// NewMatcherService wires the orchestrator to the session service and
// registers itself as the session service's Requeuer.
func NewMatcherService(st storage.Storage, prof profiles.Provider, guard *history.Guard, sessions *SessionService, cfg config.MatchmakingConfig) *MatcherService {
	m := &MatcherService{
		Storage:   st,
		Profiles:  prof,
		Evaluator: compat.NewEvaluator(),
		Guard:     guard,
		Sessions:  sessions,
		Notifier:  sessions.Notifier,
		Events:    sessions.Events,
		Config:    cfg,
		Now:       time.Now,
	}
	sessions.Requeuer = m
	return m
}

// ClientConfig returns the polling contract.
func (m *MatcherService) ClientConfig() ClientConfig {
	return ClientConfig{
		TimeoutSeconds:      m.Config.Timeout.Seconds(),
		PollIntervalSeconds: m.Config.PollInterval.Seconds(),
	}
}

// Join puts uid into the queue. A previous queue row is replaced; a user in
// an open session cannot join. modeName is optional.
func (m *MatcherService) Join(ctx context.Context, uid, modeName string) (*models.QueueEntry, error) {
	ctx, span := m.startSpan(ctx, "matchmaking.join", trace.WithAttributes(attribute.String("uid", uid)))
	defer span.End()

	exists, err := m.Profiles.UserExists(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("check user %s: %w", uid, err)
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	var modeID *string
	if modeName != "" {
		if m.Options == nil {
			return nil, fmt.Errorf("%w: mode %q", options.ErrUnknownOption, modeName)
		}
		id, err := m.Options.Resolve(ctx, options.KindMode, modeName)
		if err != nil {
			return nil, err
		}
		modeID = &id
	}

	entry, err := m.enqueue(ctx, uid, modeID)
	if err != nil {
		return nil, err
	}

	observability.IncQueueJoin()
	m.Events.Emit(ctx, events.QueueJoined, map[string]any{"uid": uid, "mode_id": modeID})
	logging.Info().Str("uid", uid).Msg("joined queue")
	return entry, nil
}

// Requeue puts a displaced guest back into the queue with the mode of the
// session they lost.
func (m *MatcherService) Requeue(ctx context.Context, uid string, modeID *string) error {
	_, err := m.enqueue(ctx, uid, modeID)
	return err
}

func (m *MatcherService) enqueue(ctx context.Context, uid string, modeID *string) (*models.QueueEntry, error) {
	prefs, err := m.preferences(ctx, uid)
	if err != nil {
		return nil, err
	}
	location := ""
	if p, err := m.Profiles.GetProfile(ctx, uid); err == nil {
		location = p.Location
	} else if !errors.Is(err, profiles.ErrNotFound) {
		return nil, fmt.Errorf("load profile %s: %w", uid, err)
	}

	now := m.now()
	entry := &models.QueueEntry{
		UserID:           uid,
		ModeID:           modeID,
		LocationSnapshot: location,
		EnqueuedAt:       now,
		ExpiresAt:        now.Add(m.Config.QueueTTL()),
	}
	if err := entry.SetPreferences(prefs); err != nil {
		return nil, fmt.Errorf("snapshot preferences: %w", err)
	}

	err = m.Storage.WithTx(ctx, func(tx storage.Storage) error {
		if _, err := tx.GetOpenSessionForUser(ctx, uid); err == nil {
			return ErrAlreadyInSession
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if _, err := tx.DeleteQueueEntry(ctx, uid); err != nil {
			return err
		}
		return tx.UpsertQueueEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// preferences loads uid's preferences, degrading to permissive defaults when
// none are saved.
func (m *MatcherService) preferences(ctx context.Context, uid string) (models.Preferences, error) {
	p, err := m.Profiles.GetPreferences(ctx, uid)
	if errors.Is(err, profiles.ErrNotFound) {
		return DefaultPreferences(), nil
	}
	if err != nil {
		return models.Preferences{}, fmt.Errorf("load preferences %s: %w", uid, err)
	}
	return normalizePreferences(*p), nil
}

// DefaultPreferences accepts anyone aged 18-99 at any distance.
func DefaultPreferences() models.Preferences {
	return models.Preferences{
		TargetGender: config.DefaultTargetGender,
		AgeMin:       config.DefaultAgeMin,
		AgeMax:       config.DefaultAgeMax,
	}
}

func normalizePreferences(p models.Preferences) models.Preferences {
	if p.TargetGender == "" {
		p.TargetGender = config.DefaultTargetGender
	}
	if p.AgeMax <= 0 {
		p.AgeMax = config.DefaultAgeMax
	}
	return p
}

// Leave removes uid from the queue. It reports whether a row was removed.
func (m *MatcherService) Leave(ctx context.Context, uid string) (bool, error) {
	return m.Storage.DeleteQueueEntry(ctx, uid)
}

// QueueEntry returns uid's live queue row.
func (m *MatcherService) QueueEntry(ctx context.Context, uid string) (*models.QueueEntry, error) {
	e, err := m.Storage.GetQueueEntry(ctx, uid, m.now())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotQueued
	}
	return e, err
}

// ExitMatchmaking fully disengages uid: queue row and open session are both
// dropped, and uid is not put back into the queue.
func (m *MatcherService) ExitMatchmaking(ctx context.Context, uid string) error {
	if _, err := m.Storage.DeleteQueueEntry(ctx, uid); err != nil {
		return err
	}
	if _, err := m.Sessions.leave(ctx, uid); err != nil && !errors.Is(err, ErrNotInSession) {
		return err
	}
	// a concurrent re-queue may have slipped in while leaving
	_, err := m.Storage.DeleteQueueEntry(ctx, uid)
	return err
}

// Poll runs one reconciliation step for uid.
func (m *MatcherService) Poll(ctx context.Context, uid string) (*PollResult, error) {
	ctx, span := m.startSpan(ctx, "matchmaking.poll", trace.WithAttributes(attribute.String("uid", uid)))
	defer span.End()

	res, err := m.poll(ctx, uid)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("status", string(res.Status)))
	observability.IncPoll(string(res.Status))
	return res, nil
}

func (m *MatcherService) poll(ctx context.Context, uid string) (*PollResult, error) {
	if res, err := m.sessionResult(ctx, uid); res != nil || err != nil {
		return res, err
	}

	now := m.now()
	entry, err := m.Storage.GetQueueEntry(ctx, uid, now)
	if errors.Is(err, storage.ErrNotFound) {
		return &PollResult{Status: StatusCancelled}, nil
	}
	if err != nil {
		return nil, err
	}

	me, err := m.participant(ctx, uid, nil)
	if err != nil {
		return nil, err
	}
	if me == nil {
		return nil, ErrUserNotFound
	}

	if res, err := m.scanQueue(ctx, me, now); res != nil || err != nil {
		return res, err
	}

	elapsed := entry.Elapsed(now)
	if elapsed >= m.Config.Timeout {
		return m.selfHost(ctx, uid, entry.ModeID)
	}

	if res, err := m.scanOpenSessions(ctx, me, now); res != nil || err != nil {
		return res, err
	}

	return &PollResult{
		Status:        StatusSearching,
		TimeElapsed:   seconds(elapsed),
		TimeRemaining: seconds(m.Config.Timeout - elapsed),
		PollAgainIn:   seconds(m.Config.PollInterval),
	}, nil
}

// sessionResult answers a poll from a user who already holds an open session.
// A host still waiting for a guest gets timeout/host and keeps their queue row
// so late arrivals can find them; a seated pair gets found and anyone else
// has the stray row removed.
func (m *MatcherService) sessionResult(ctx context.Context, uid string) (*PollResult, error) {
	sess, err := m.Storage.GetOpenSessionForUser(ctx, uid)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	role := sess.RoleOf(uid)
	if role == models.RoleHost && !sess.HasGuest() {
		return &PollResult{
			Status:      StatusTimeout,
			Role:        role,
			Session:     sess,
			PollAgainIn: seconds(m.Config.PollInterval),
		}, nil
	}
	if _, err := m.Storage.DeleteQueueEntry(ctx, uid); err != nil {
		return nil, err
	}
	return &PollResult{Status: StatusFound, Role: role, Session: sess}, nil
}

// participant is one side of a compatibility check.
type participant struct {
	uid     string
	prefs   models.Preferences
	profile *models.Profile
}

// participant loads the live profile of uid. With snapshot set, preferences
// and location come from the queue row instead. A missing profile yields nil.
func (m *MatcherService) participant(ctx context.Context, uid string, snapshot *models.QueueEntry) (*participant, error) {
	profile, err := m.Profiles.GetProfile(ctx, uid)
	if errors.Is(err, profiles.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", uid, err)
	}

	p := &participant{uid: uid, profile: profile}
	if snapshot == nil {
		if p.prefs, err = m.preferences(ctx, uid); err != nil {
			return nil, err
		}
		return p, nil
	}

	prefs, err := snapshot.Preferences()
	if err != nil {
		logging.Warn().Err(err).Str("uid", uid).Msg("unreadable preferences snapshot, using defaults")
		prefs = DefaultPreferences()
	}
	p.prefs = normalizePreferences(prefs)
	if snapshot.LocationSnapshot != "" {
		cp := *profile
		cp.Location = snapshot.LocationSnapshot
		p.profile = &cp
	}
	return p, nil
}

// acceptable applies the history guard and then the compatibility rules,
// with host as the candidate side.
func (m *MatcherService) acceptable(ctx context.Context, host, guest *participant) (bool, error) {
	blocked, err := m.Guard.Blocked(ctx, host.uid, guest.uid)
	if err != nil {
		return false, err
	}
	if blocked {
		return false, nil
	}
	return m.Evaluator.IsCompatible(host.prefs, guest.prefs, host.profile, guest.profile), nil
}

// scanQueue walks the oldest waiting users and pairs uid with the first
// acceptable one, the candidate becoming host.
func (m *MatcherService) scanQueue(ctx context.Context, me *participant, now time.Time) (*PollResult, error) {
	candidates, err := m.Storage.ListQueueCandidates(ctx, me.uid, now, m.Config.ScanLimit)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		c := &candidates[i]
		host, err := m.participant(ctx, c.UserID, c)
		if err != nil {
			return nil, err
		}
		if host == nil {
			continue
		}
		ok, err := m.acceptable(ctx, host, me)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		res, err := m.pairWithCandidate(ctx, c, me.uid)
		if errors.Is(err, ErrSessionNotAvailable) {
			// lost a race for this candidate; try the next one
			continue
		}
		if err != nil {
			return nil, err
		}
		return res, nil
	}
	return nil, nil
}

// pairWithCandidate makes the candidate host (reusing their unclaimed open
// session if they already self-hosted) and claims the guest slot for guestUID.
func (m *MatcherService) pairWithCandidate(ctx context.Context, c *models.QueueEntry, guestUID string) (*PollResult, error) {
	var (
		sess    *models.Session
		created *models.Session
	)
	err := m.Storage.WithTx(ctx, func(tx storage.Storage) error {
		hosted, err := tx.GetOpenSessionForUser(ctx, c.UserID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			created, err = m.Sessions.createAsHost(ctx, tx, c.UserID, c.ModeID)
			if errors.Is(err, ErrAlreadyInSession) {
				return ErrSessionNotAvailable
			}
			if err != nil {
				return err
			}
			hosted = created
		case err != nil:
			return err
		case hosted.RoleOf(c.UserID) != models.RoleHost || hosted.HasGuest():
			return ErrSessionNotAvailable
		}

		if sess, err = m.Sessions.claim(ctx, tx, hosted.ID, guestUID); err != nil {
			return err
		}
		return m.dequeuePair(ctx, tx, sess.HostUID, guestUID)
	})
	if err != nil {
		return nil, err
	}

	if created != nil {
		m.Sessions.sessionCreated(ctx, created, OriginPairing)
	}
	m.matched(ctx, sess)
	return &PollResult{Status: StatusFound, Role: models.RoleGuest, Session: sess}, nil
}

// scanOpenSessions tries unclaimed sessions of still-queued hosts.
func (m *MatcherService) scanOpenSessions(ctx context.Context, me *participant, now time.Time) (*PollResult, error) {
	open, err := m.Storage.ListOpenSessionsForQueuedHosts(ctx, me.uid, now, m.Config.ScanLimit)
	if err != nil {
		return nil, err
	}

	for i := range open {
		sess := &open[i]
		entry, err := m.Storage.GetQueueEntry(ctx, sess.HostUID, now)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		host, err := m.participant(ctx, sess.HostUID, entry)
		if err != nil {
			return nil, err
		}
		if host == nil {
			continue
		}
		ok, err := m.acceptable(ctx, host, me)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		var claimed *models.Session
		err = m.Storage.WithTx(ctx, func(tx storage.Storage) error {
			var err error
			if claimed, err = m.Sessions.claim(ctx, tx, sess.ID, me.uid); err != nil {
				return err
			}
			return m.dequeuePair(ctx, tx, claimed.HostUID, me.uid)
		})
		if errors.Is(err, ErrSessionNotAvailable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m.matched(ctx, claimed)
		return &PollResult{Status: StatusFound, Role: models.RoleGuest, Session: claimed}, nil
	}
	return nil, nil
}

func (m *MatcherService) dequeuePair(ctx context.Context, tx storage.Storage, a, b string) error {
	if _, err := tx.DeleteQueueEntry(ctx, a); err != nil {
		return err
	}
	_, err := tx.DeleteQueueEntry(ctx, b)
	return err
}

// matched runs after a claim commits.
func (m *MatcherService) matched(ctx context.Context, sess *models.Session) {
	m.Sessions.claimed(ctx, sess)
	guest := sess.Guest()
	m.notify(ctx, sess.HostUID, models.EventMatchFound, MatchFoundPayload{
		SessionID: sess.ID, Role: string(models.RoleHost), PartnerUID: guest,
	})
	m.notify(ctx, guest, models.EventMatchFound, MatchFoundPayload{
		SessionID: sess.ID, Role: string(models.RoleGuest), PartnerUID: sess.HostUID,
	})
	logging.Info().Str("session_id", sess.ID).Str("host_uid", sess.HostUID).Str("guest_uid", guest).Msg("match found")
}

// selfHost promotes a timed-out waiter to host. The queue row is kept.
func (m *MatcherService) selfHost(ctx context.Context, uid string, modeID *string) (*PollResult, error) {
	sess, err := m.promote(ctx, uid, modeID, OriginTimeout)
	if errors.Is(err, ErrAlreadyInSession) {
		// someone claimed us between the first check and now
		res, err := m.sessionResult(ctx, uid)
		if err != nil || res != nil {
			return res, err
		}
		return nil, ErrSessionNotAvailable
	}
	if err != nil {
		return nil, err
	}
	return &PollResult{
		Status:      StatusTimeout,
		Role:        models.RoleHost,
		Session:     sess,
		PollAgainIn: seconds(m.Config.PollInterval),
	}, nil
}

func (m *MatcherService) promote(ctx context.Context, uid string, modeID *string, origin string) (*models.Session, error) {
	var sess *models.Session
	err := m.Storage.WithTx(ctx, func(tx storage.Storage) error {
		var err error
		sess, err = m.Sessions.createAsHost(ctx, tx, uid, modeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.Sessions.sessionCreated(ctx, sess, origin)
	return sess, nil
}

// GetState reports where uid stands without changing anything, except that
// a stray queue row is dropped once uid is seated in a session.
func (m *MatcherService) GetState(ctx context.Context, uid string) (*State, error) {
	now := m.now()
	sess, err := m.Storage.GetOpenSessionForUser(ctx, uid)
	switch {
	case err == nil:
		st := &State{
			State:      StateInSession,
			Session:    sess,
			Role:       sess.RoleOf(uid),
			PartnerUID: sess.PartnerOf(uid),
		}
		if st.PartnerUID != "" {
			if _, err := m.Storage.DeleteQueueEntry(ctx, uid); err != nil {
				logging.Warn().Err(err).Str("uid", uid).Msg("failed to clear stale queue entry")
			}
			if p, err := m.Profiles.GetProfile(ctx, st.PartnerUID); err == nil {
				st.PartnerName = p.DisplayName
			}
		}
		return st, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	entry, err := m.Storage.GetQueueEntry(ctx, uid, now)
	if errors.Is(err, storage.ErrNotFound) {
		return &State{State: StateIdle}, nil
	}
	if err != nil {
		return nil, err
	}
	elapsed := entry.Elapsed(now)
	remaining := m.Config.Timeout - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return &State{
		State:         StateSearching,
		Queue:         entry,
		TimeElapsed:   seconds(elapsed),
		TimeRemaining: seconds(remaining),
		PollAgainIn:   seconds(m.Config.PollInterval),
	}, nil
}

func (m *MatcherService) notify(ctx context.Context, uid, event string, payload any) {
	if m.Notifier == nil || uid == "" {
		return
	}
	m.Notifier.Notify(ctx, uid, event, payload)
}

func (m *MatcherService) startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return telemetry.Tracer("matchmaking").Start(ctx, name, opts...)
}

func (m *MatcherService) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

func seconds(d time.Duration) *float64 {
	s := d.Seconds()
	return &s
}
