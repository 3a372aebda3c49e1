package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"spark/backend/internal/config"
	"spark/backend/internal/events"
	"spark/backend/internal/localization"
	"spark/backend/internal/logging"
	"spark/backend/internal/models"
	"spark/backend/internal/observability"
	"spark/backend/internal/profiles"
	"spark/backend/internal/storage"
	"spark/backend/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Session origins, used as a metric label.
const (
	OriginPairing = "pairing"
	OriginTimeout = "timeout"
	OriginSweeper = "sweeper"
)

// Requeuer puts a displaced guest back into the queue.
type Requeuer interface {
	Requeue(ctx context.Context, uid string, modeID *string) error
}

// SessionService owns session transitions: create, claim, leave and the
// per-session chat and match interactions.
type SessionService struct {
	Storage   storage.Storage
	Profiles  profiles.Provider
	Notifier  Notifier
	Events    *events.Emitter
	Localizer *localization.Localizer
	Requeuer  Requeuer
	Config    config.MatchmakingConfig
	Now       func() time.Time
}

func NewSessionService(st storage.Storage, prof profiles.Provider, cfg config.MatchmakingConfig) *SessionService {
	return &SessionService{
		Storage:   st,
		Profiles:  prof,
		Notifier:  NopNotifier,
		Localizer: localization.Embedded(),
		Config:    cfg,
		Now:       time.Now,
	}
}

// SessionView is a session as seen by one participant.
type SessionView struct {
	Session    *models.Session `json:"session"`
	Role       models.Role     `json:"role"`
	PartnerUID string          `json:"partner_uid,omitempty"`
}

// LeaveResult describes the transition a Leave performed.
type LeaveResult struct {
	Session *models.Session `json:"session"`
	Role    models.Role     `json:"role"`
	// Displaced is the guest removed by a host leaving, if any.
	Displaced string `json:"displaced,omitempty"`
	Requeued  bool   `json:"requeued"`
}

// MatchResult is the outcome of RecordMatchInteraction.
type MatchResult struct {
	Interaction *models.Interaction `json:"interaction"`
	Created     bool                `json:"created"`
	Mutual      bool                `json:"is_mutual"`
	Chat        *models.Chat        `json:"chat,omitempty"`
	ChatCreated bool                `json:"-"`
}

// MatchStatus reports both sides' interest in the caller's active session.
type MatchStatus struct {
	SessionID   string `json:"session_id"`
	OtherUID    string `json:"other_uid,omitempty"`
	YouMatched  bool   `json:"you_matched"`
	TheyMatched bool   `json:"they_matched"`
	IsMutual    bool   `json:"is_mutual"`
}

// CreateAsHost opens a new session hosted by uid.
func (s *SessionService) CreateAsHost(ctx context.Context, uid string, modeID *string) (*models.Session, error) {
	var sess *models.Session
	err := s.Storage.WithTx(ctx, func(tx storage.Storage) error {
		var err error
		sess, err = s.createAsHost(ctx, tx, uid, modeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.sessionCreated(ctx, sess, "api")
	return sess, nil
}

func (s *SessionService) createAsHost(ctx context.Context, tx storage.Storage, uid string, modeID *string) (*models.Session, error) {
	if _, err := tx.GetOpenSessionForUser(ctx, uid); err == nil {
		return nil, ErrAlreadyInSession
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	sess := &models.Session{
		HostUID:   uid,
		Status:    models.SessionOpen,
		ModeID:    modeID,
		StartedAt: s.now(),
	}
	if err := tx.CreateSession(ctx, sess); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrAlreadyInSession
		}
		return nil, fmt.Errorf("create session for %s: %w", uid, err)
	}
	return sess, nil
}

func (s *SessionService) sessionCreated(ctx context.Context, sess *models.Session, origin string) {
	observability.IncSessionCreated(origin)
	s.Events.Emit(ctx, events.SessionCreated, map[string]any{
		"session_id": sess.ID,
		"host_uid":   sess.HostUID,
		"origin":     origin,
	})
	logging.Info().Str("session_id", sess.ID).Str("host_uid", sess.HostUID).Str("origin", origin).Msg("session created")
}

// ClaimGuestSlot joins guestUID into an open, unclaimed session. Of several
// concurrent claimants exactly one succeeds; the rest get ErrSessionNotAvailable.
func (s *SessionService) ClaimGuestSlot(ctx context.Context, sessionID, guestUID string) (*models.Session, error) {
	var sess *models.Session
	err := s.Storage.WithTx(ctx, func(tx storage.Storage) error {
		var err error
		sess, err = s.claim(ctx, tx, sessionID, guestUID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.claimed(ctx, sess)
	return sess, nil
}

func (s *SessionService) claim(ctx context.Context, tx storage.Storage, sessionID, guestUID string) (*models.Session, error) {
	sess, err := tx.ClaimGuestSlot(ctx, sessionID, guestUID)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			observability.IncGuestClaim("conflict")
			return nil, ErrSessionNotAvailable
		}
		return nil, fmt.Errorf("claim session %s: %w", sessionID, err)
	}
	observability.IncGuestClaim("success")
	return sess, nil
}

func (s *SessionService) claimed(ctx context.Context, sess *models.Session) {
	s.Events.Emit(ctx, events.SessionClaimed, map[string]any{
		"session_id": sess.ID,
		"host_uid":   sess.HostUID,
		"guest_uid":  sess.Guest(),
	})
}

// Active returns the caller's open session.
func (s *SessionService) Active(ctx context.Context, uid string) (*SessionView, error) {
	sess, err := s.Storage.GetOpenSessionForUser(ctx, uid)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotInSession
	}
	if err != nil {
		return nil, err
	}
	return &SessionView{Session: sess, Role: sess.RoleOf(uid), PartnerUID: sess.PartnerOf(uid)}, nil
}

// Leave removes uid from its open session:
//   - host without guest: session closed
//   - host with guest: session abandoned, the guest is re-queued
//   - guest: guest slot cleared, session stays open for the host
func (s *SessionService) Leave(ctx context.Context, uid string) (*LeaveResult, error) {
	return s.leave(ctx, uid)
}

func (s *SessionService) leave(ctx context.Context, uid string) (*LeaveResult, error) {
	ctx, span := s.startSpan(ctx, "session.leave", trace.WithAttributes(attribute.String("uid", uid)))
	defer span.End()

	res := &LeaveResult{}
	err := s.Storage.WithTx(ctx, func(tx storage.Storage) error {
		sess, err := tx.GetOpenSessionForUser(ctx, uid)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotInSession
		}
		if err != nil {
			return err
		}

		res.Role = sess.RoleOf(uid)
		switch {
		case res.Role == models.RoleHost && !sess.HasGuest():
			res.Session, err = tx.CloseSession(ctx, sess.ID, models.SessionClosed, s.now())
		case res.Role == models.RoleHost:
			res.Displaced = sess.Guest()
			res.Session, err = tx.CloseSession(ctx, sess.ID, models.SessionAbandoned, s.now())
		default:
			res.Session, err = tx.ClearGuest(ctx, sess.ID, uid)
		}
		if errors.Is(err, storage.ErrConflict) {
			return ErrSessionNotAvailable
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	sess := res.Session
	if res.Displaced != "" && s.Requeuer != nil {
		// best-effort: the guest can always rejoin by hand
		if err := s.Requeuer.Requeue(ctx, res.Displaced, sess.ModeID); err != nil {
			logging.Warn().Err(err).Str("uid", res.Displaced).Str("session_id", sess.ID).Msg("failed to re-queue displaced guest")
		} else {
			res.Requeued = true
		}
	}

	partner := res.Displaced
	if res.Role == models.RoleGuest {
		partner = sess.HostUID
	}
	if partner != "" {
		s.notify(ctx, partner, models.EventSessionClosed, SessionClosedPayload{
			SessionID: sess.ID,
			Status:    string(sess.Status),
			LeftUID:   uid,
			Requeued:  res.Requeued,
		})
	}
	s.Events.Emit(ctx, events.SessionLeft, map[string]any{
		"session_id": sess.ID,
		"uid":        uid,
		"role":       res.Role,
		"status":     sess.Status,
	})
	logging.Info().Str("session_id", sess.ID).Str("uid", uid).Str("status", string(sess.Status)).Msg("left session")
	return res, nil
}

// AddChatMessage appends a message from a participant of an open session
// and relays it to the other participant.
func (s *SessionService) AddChatMessage(ctx context.Context, sessionID, authorUID, content string) (*models.SessionChatEntry, error) {
	content, err := validContent(content, s.Config.MaxMessageSize)
	if err != nil {
		return nil, err
	}

	sess, err := s.Storage.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.RoleOf(authorUID) == "" {
		return nil, ErrNotParticipant
	}
	if !sess.IsOpen() {
		return nil, ErrSessionNotAvailable
	}
	receiver := sess.PartnerOf(authorUID)
	if receiver == "" {
		return nil, ErrNoPartner
	}

	entry := &models.SessionChatEntry{
		SessionID:   sess.ID,
		AuthorUID:   authorUID,
		ReceiverUID: &receiver,
		Content:     content,
		CreatedAt:   s.now(),
	}
	if err := s.Storage.AddSessionChatEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("store session message: %w", err)
	}

	s.notify(ctx, receiver, models.EventChatReceived, entry)
	return entry, nil
}

// validContent trims content and checks it is 1..limit characters long.
func validContent(content string, limit int) (string, error) {
	content = strings.TrimSpace(content)
	if limit <= 0 {
		limit = config.MaxChatMessageLength
	}
	if content == "" || utf8.RuneCountInString(content) > limit {
		return "", ErrInvalidMessage
	}
	return content, nil
}

// SessionChats returns up to limit entries of the caller's active session,
// oldest first.
func (s *SessionService) SessionChats(ctx context.Context, uid string, limit int) ([]models.SessionChatEntry, error) {
	view, err := s.Active(ctx, uid)
	if err != nil {
		return nil, err
	}
	return s.Storage.ListSessionChatEntries(ctx, view.Session.ID, ClampLimit(limit, s.Config.ChatPageLimit))
}

// ClampLimit keeps a page size within 1..MaxChatPageLimit, using def for
// non-positive input.
func ClampLimit(limit, def int) int {
	if def <= 0 {
		def = config.DefaultChatPageLimit
	}
	if limit <= 0 {
		limit = def
	}
	if limit > config.MaxChatPageLimit {
		limit = config.MaxChatPageLimit
	}
	return limit
}

// RecordMatchInteraction records uid's interest in their partner. Repeated
// calls return the existing interaction. When both participants have
// recorded interest, the durable chat for the pair is created once.
func (s *SessionService) RecordMatchInteraction(ctx context.Context, uid, sessionID string) (*MatchResult, error) {
	ctx, span := s.startSpan(ctx, "session.record_match", trace.WithAttributes(
		attribute.String("uid", uid), attribute.String("session_id", sessionID)))
	defer span.End()

	name := s.displayName(ctx, uid)

	var (
		res     = &MatchResult{}
		partner string
	)
	err := s.Storage.WithTx(ctx, func(tx storage.Storage) error {
		sess, err := tx.LockSession(ctx, sessionID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		if sess.RoleOf(uid) == "" {
			return ErrNotParticipant
		}
		if !sess.IsOpen() {
			return ErrSessionNotAvailable
		}
		partner = sess.PartnerOf(uid)
		if partner == "" {
			return ErrNoPartner
		}

		res.Interaction, res.Created, err = tx.CreateInteraction(ctx, &models.Interaction{
			Kind:      models.InteractionMatch,
			FromUID:   uid,
			ToUID:     partner,
			SessionID: sess.ID,
			CreatedAt: s.now(),
		})
		if err != nil {
			return fmt.Errorf("record interaction: %w", err)
		}

		_, err = tx.FindInteraction(ctx, models.InteractionMatch, partner, sess.ID)
		switch {
		case err == nil:
			res.Mutual = true
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		if res.Mutual {
			a, b := models.CanonicalPair(uid, partner)
			sid := sess.ID
			res.Chat, res.ChatCreated, err = tx.CreateChat(ctx, &models.Chat{
				UserAUID:       a,
				UserBUID:       b,
				MatchSessionID: &sid,
				Status:         models.ChatActive,
				CreatedAt:      s.now(),
			})
			if err != nil {
				return fmt.Errorf("create chat: %w", err)
			}
		}

		// "X is interested!" goes out once, with the first recorded interest;
		// a repeated tap neither posts nor notifies again.
		if !res.Created {
			return nil
		}
		return tx.AddSessionChatEntry(ctx, &models.SessionChatEntry{
			SessionID: sess.ID,
			AuthorUID: uid,
			Content:   s.Localizer.Format(localization.DefaultLanguage, localization.KeyMatchInterest, name),
			IsSystem:  true,
			CreatedAt: s.now(),
		})
	})
	if err != nil {
		return nil, err
	}

	if res.Created {
		payload := InteractionPayload{SessionID: sessionID, FromUID: uid, ToUID: partner, Mutual: res.Mutual}
		s.notify(ctx, uid, models.EventInteraction, payload)
		s.notify(ctx, partner, models.EventInteraction, payload)
		s.Events.Emit(ctx, events.MatchRecorded, payload)
	}
	if res.ChatCreated {
		observability.IncMutualMatch()
		s.notify(ctx, uid, models.EventMutualMatch, MutualMatchPayload{SessionID: sessionID, ChatID: res.Chat.ID, PartnerUID: partner})
		s.notify(ctx, partner, models.EventMutualMatch, MutualMatchPayload{SessionID: sessionID, ChatID: res.Chat.ID, PartnerUID: uid})
		s.Events.Emit(ctx, events.MatchMutual, map[string]any{
			"session_id": sessionID,
			"chat_id":    res.Chat.ID,
			"user_a_uid": res.Chat.UserAUID,
			"user_b_uid": res.Chat.UserBUID,
		})
		logging.Info().Str("session_id", sessionID).Str("chat_id", res.Chat.ID).Msg("mutual match")
	}
	return res, nil
}

// GetMatchStatus reports the interest recorded in the caller's active session.
func (s *SessionService) GetMatchStatus(ctx context.Context, uid string) (*MatchStatus, error) {
	view, err := s.Active(ctx, uid)
	if err != nil {
		return nil, err
	}
	st := &MatchStatus{SessionID: view.Session.ID, OtherUID: view.PartnerUID}

	if st.YouMatched, err = s.hasInteraction(ctx, uid, st.SessionID); err != nil {
		return nil, err
	}
	if st.OtherUID != "" {
		if st.TheyMatched, err = s.hasInteraction(ctx, st.OtherUID, st.SessionID); err != nil {
			return nil, err
		}
	}
	st.IsMutual = st.YouMatched && st.TheyMatched
	return st, nil
}

func (s *SessionService) hasInteraction(ctx context.Context, from, sessionID string) (bool, error) {
	_, err := s.Storage.FindInteraction(ctx, models.InteractionMatch, from, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *SessionService) displayName(ctx context.Context, uid string) string {
	if s.Profiles != nil {
		if p, err := s.Profiles.GetProfile(ctx, uid); err == nil && p.DisplayName != "" {
			return p.DisplayName
		}
	}
	return s.Localizer.GetString(localization.DefaultLanguage, localization.KeySomeone)
}

func (s *SessionService) notify(ctx context.Context, uid, event string, payload any) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Notify(ctx, uid, event, payload)
}

func (s *SessionService) startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return telemetry.Tracer("sessions").Start(ctx, name, opts...)
}

func (s *SessionService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
