package matchmaking_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"spark/backend/internal/matchmaking"
	"spark/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCreateAsHostOncePerUser refuses a second open session.
func TestCreateAsHostOncePerUser(t *testing.T) {
	e := newEnv(t)

	_, err := e.sessions.CreateAsHost(e.ctx, "ann", nil)
	require.NoError(t, err)
	_, err = e.sessions.CreateAsHost(e.ctx, "ann", nil)

	assert.ErrorIs(t, err, matchmaking.ErrAlreadyInSession)
}

// TestClaimGuestSlotSingleWinner lets exactly one of several claimants in.
func TestClaimGuestSlotSingleWinner(t *testing.T) {
	e := newEnv(t)
	sess, err := e.sessions.CreateAsHost(e.ctx, "host", nil)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for _, uid := range []string{"g1", "g2", "g3", "g4"} {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			_, err := e.sessions.ClaimGuestSlot(e.ctx, sess.ID, uid)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if assert.ErrorIs(t, err, matchmaking.ErrSessionNotAvailable) {
				conflicts++
			}
		}(uid)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 3, conflicts)
}

// TestClaimRejectsHostAsGuest keeps host and guest distinct.
func TestClaimRejectsHostAsGuest(t *testing.T) {
	e := newEnv(t)
	sess, err := e.sessions.CreateAsHost(e.ctx, "ann", nil)
	require.NoError(t, err)

	_, err = e.sessions.ClaimGuestSlot(e.ctx, sess.ID, "ann")

	assert.ErrorIs(t, err, matchmaking.ErrSessionNotAvailable)
}

// TestHostLeavesEmptySession closes it.
func TestHostLeavesEmptySession(t *testing.T) {
	e := newEnv(t)
	sess, err := e.sessions.CreateAsHost(e.ctx, "ann", nil)
	require.NoError(t, err)
	e.clock.Advance(time.Minute)

	res, err := e.sessions.Leave(e.ctx, "ann")

	require.NoError(t, err)
	assert.Equal(t, sess.ID, res.Session.ID)
	assert.Equal(t, models.SessionClosed, res.Session.Status)
	require.NotNil(t, res.Session.ClosedAt)
	assert.Equal(t, epoch.Add(time.Minute), *res.Session.ClosedAt)
	assert.Empty(t, res.Displaced)
}

// TestHostLeavesGuestedSession abandons it and re-queues the guest.
func TestHostLeavesGuestedSession(t *testing.T) {
	e := newEnv(t)
	e.user("bob", "Bob", "male", "")
	e.pair(t, "ann", "bob")

	res, err := e.sessions.Leave(e.ctx, "ann")

	require.NoError(t, err)
	assert.Equal(t, models.SessionAbandoned, res.Session.Status)
	assert.NotNil(t, res.Session.ClosedAt)
	assert.Equal(t, "bob", res.Displaced)
	assert.True(t, res.Requeued)
	assert.True(t, e.queued("bob"))

	payload := e.notifier.last("bob", models.EventSessionClosed).(matchmaking.SessionClosedPayload)
	assert.Equal(t, "abandoned", payload.Status)
	assert.True(t, payload.Requeued)
}

// TestRequeueFailureIsSwallowed still completes the leave.
func TestRequeueFailureIsSwallowed(t *testing.T) {
	e := newEnv(t)
	e.user("bob", "Bob", "male", "")
	sess := e.pair(t, "ann", "bob")
	e.sessions.Requeuer = failingRequeuer{}

	res, err := e.sessions.Leave(e.ctx, "ann")

	require.NoError(t, err)
	assert.Equal(t, sess.ID, res.Session.ID)
	assert.False(t, res.Requeued)
}

// TestGuestLeaveRoundTrip clears the slot so a third user can claim it.
func TestGuestLeaveRoundTrip(t *testing.T) {
	e := newEnv(t)
	sess := e.pair(t, "ann", "bob")

	res, err := e.sessions.Leave(e.ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.SessionOpen, res.Session.Status)
	assert.Nil(t, res.Session.GuestUID)
	assert.Nil(t, res.Session.ClosedAt)
	assert.Equal(t, 1, e.notifier.count("ann", models.EventSessionClosed))

	claimed, err := e.sessions.ClaimGuestSlot(e.ctx, sess.ID, "cat")
	require.NoError(t, err)
	assert.Equal(t, "cat", claimed.Guest())
}

func TestLeaveWithoutSession(t *testing.T) {
	e := newEnv(t)

	_, err := e.sessions.Leave(e.ctx, "ann")

	assert.ErrorIs(t, err, matchmaking.ErrNotInSession)
}

// TestAddChatMessage relays to the partner and validates input.
func TestAddChatMessage(t *testing.T) {
	e := newEnv(t)
	solo, err := e.sessions.CreateAsHost(e.ctx, "dan", nil)
	require.NoError(t, err)
	_, err = e.sessions.AddChatMessage(e.ctx, solo.ID, "dan", "anyone?")
	assert.ErrorIs(t, err, matchmaking.ErrNoPartner)

	sess := e.pair(t, "ann", "bob")

	entry, err := e.sessions.AddChatMessage(e.ctx, sess.ID, "bob", "  hi there ")
	require.NoError(t, err)
	assert.Equal(t, "hi there", entry.Content)
	require.NotNil(t, entry.ReceiverUID)
	assert.Equal(t, "ann", *entry.ReceiverUID)
	assert.Equal(t, 1, e.notifier.count("ann", models.EventChatReceived))

	_, err = e.sessions.AddChatMessage(e.ctx, sess.ID, "eve", "hello")
	assert.ErrorIs(t, err, matchmaking.ErrNotParticipant)

	_, err = e.sessions.AddChatMessage(e.ctx, sess.ID, "bob", "   ")
	assert.ErrorIs(t, err, matchmaking.ErrInvalidMessage)

	_, err = e.sessions.AddChatMessage(e.ctx, sess.ID, "bob", strings.Repeat("a", 2001))
	assert.ErrorIs(t, err, matchmaking.ErrInvalidMessage)

	_, err = e.sessions.AddChatMessage(e.ctx, "missing", "bob", "hello")
	assert.ErrorIs(t, err, matchmaking.ErrSessionNotFound)

	entries, err := e.sessions.SessionChats(e.ctx, "ann", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// TestRecordMatchInteractionIsIdempotent stores one row per user and session.
func TestRecordMatchInteractionIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.user("ann", "Ann", "female", "")
	sess := e.pair(t, "ann", "bob")

	first, err := e.sessions.RecordMatchInteraction(e.ctx, "ann", sess.ID)
	require.NoError(t, err)
	second, err := e.sessions.RecordMatchInteraction(e.ctx, "ann", sess.ID)
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.Interaction.ID, second.Interaction.ID)
	assert.False(t, second.Mutual)
	assert.Equal(t, 1, e.store.InteractionCount())
	assert.Equal(t, 0, e.store.ChatCount())

	entries, err := e.store.ListSessionChatEntries(e.ctx, sess.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsSystem)
	assert.Equal(t, "Ann is interested!", entries[0].Content)

	assert.Equal(t, 1, e.notifier.count("bob", models.EventInteraction))
	assert.Equal(t, 1, e.notifier.count("ann", models.EventInteraction))
}

// TestInterestLinePostedOncePerUser keeps one system line per interested
// user, however often they tap.
func TestInterestLinePostedOncePerUser(t *testing.T) {
	e := newEnv(t)
	e.user("ann", "Ann", "female", "")
	e.user("bob", "Bob", "male", "")
	sess := e.pair(t, "ann", "bob")

	for i := 0; i < 3; i++ {
		_, err := e.sessions.RecordMatchInteraction(e.ctx, "ann", sess.ID)
		require.NoError(t, err)
	}
	res, err := e.sessions.RecordMatchInteraction(e.ctx, "bob", sess.ID)
	require.NoError(t, err)
	_, err = e.sessions.RecordMatchInteraction(e.ctx, "bob", sess.ID)
	require.NoError(t, err)

	assert.True(t, res.Mutual)
	entries, err := e.store.ListSessionChatEntries(e.ctx, sess.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Ann is interested!", entries[0].Content)
	assert.Equal(t, "Bob is interested!", entries[1].Content)
}

// TestMutualMatchCreatesOneChat creates the chat once, whatever the order.
func TestMutualMatchCreatesOneChat(t *testing.T) {
	e := newEnv(t)
	sess := e.pair(t, "zoe", "adam")

	_, err := e.sessions.RecordMatchInteraction(e.ctx, "zoe", sess.ID)
	require.NoError(t, err)
	res, err := e.sessions.RecordMatchInteraction(e.ctx, "adam", sess.ID)
	require.NoError(t, err)
	again, err := e.sessions.RecordMatchInteraction(e.ctx, "zoe", sess.ID)
	require.NoError(t, err)

	assert.True(t, res.Mutual)
	require.NotNil(t, res.Chat)
	assert.Equal(t, "adam", res.Chat.UserAUID)
	assert.Equal(t, "zoe", res.Chat.UserBUID)
	require.NotNil(t, res.Chat.MatchSessionID)
	assert.Equal(t, sess.ID, *res.Chat.MatchSessionID)

	assert.True(t, again.Mutual)
	assert.Equal(t, res.Chat.ID, again.Chat.ID)
	assert.Equal(t, 1, e.store.ChatCount())

	assert.Equal(t, 1, e.notifier.count("zoe", models.EventMutualMatch))
	assert.Equal(t, 1, e.notifier.count("adam", models.EventMutualMatch))

	// "Someone" stands in for users without a display name
	entries, err := e.store.ListSessionChatEntries(e.ctx, sess.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Someone is interested!", entries[1].Content)

	status, err := e.sessions.GetMatchStatus(e.ctx, "zoe")
	require.NoError(t, err)
	assert.True(t, status.YouMatched)
	assert.True(t, status.TheyMatched)
	assert.True(t, status.IsMutual)
	assert.Equal(t, "adam", status.OtherUID)
}

// TestRecordMatchInteractionPreconditions rejects outsiders and empty sessions.
func TestRecordMatchInteractionPreconditions(t *testing.T) {
	e := newEnv(t)
	solo, err := e.sessions.CreateAsHost(e.ctx, "ann", nil)
	require.NoError(t, err)

	_, err = e.sessions.RecordMatchInteraction(e.ctx, "ann", solo.ID)
	assert.ErrorIs(t, err, matchmaking.ErrNoPartner)

	_, err = e.sessions.RecordMatchInteraction(e.ctx, "eve", solo.ID)
	assert.ErrorIs(t, err, matchmaking.ErrNotParticipant)

	_, err = e.sessions.RecordMatchInteraction(e.ctx, "ann", "nope")
	assert.ErrorIs(t, err, matchmaking.ErrSessionNotFound)

	assert.Equal(t, 0, e.store.InteractionCount())
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 100, matchmaking.ClampLimit(0, 0))
	assert.Equal(t, 1, matchmaking.ClampLimit(1, 100))
	assert.Equal(t, 500, matchmaking.ClampLimit(10_000, 100))
	assert.Equal(t, 40, matchmaking.ClampLimit(-3, 40))
}
