package matchmaking_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"spark/backend/internal/matchmaking"
	"spark/backend/internal/models"
	"spark/backend/internal/options"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJoinReplacesPreviousEntry keeps exactly one live row per user.
func TestJoinReplacesPreviousEntry(t *testing.T) {
	// Arrange
	e := newEnv(t)
	e.user("ann", "Ann", "female", "")

	// Act
	first := e.join(t, "ann")
	e.clock.Advance(5 * time.Second)
	second := e.join(t, "ann")

	// Assert
	candidates, err := e.store.ListQueueCandidates(e.ctx, "", e.clock.Now(), 50)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.True(t, second.EnqueuedAt.After(first.EnqueuedAt))
	assert.Equal(t, epoch.Add(5*time.Second+75*time.Second), second.ExpiresAt)

	prefs, err := candidates[0].Preferences()
	require.NoError(t, err)
	assert.Equal(t, matchmaking.DefaultPreferences(), prefs, "missing preferences degrade to defaults")
}

// TestJoinRejectsSeatedUser refuses a join while in an open session.
func TestJoinRejectsSeatedUser(t *testing.T) {
	e := newEnv(t)
	e.user("ann", "Ann", "female", "")
	_, err := e.sessions.CreateAsHost(e.ctx, "ann", nil)
	require.NoError(t, err)

	_, err = e.matcher.Join(e.ctx, "ann", "")

	assert.ErrorIs(t, err, matchmaking.ErrAlreadyInSession)
	assert.False(t, e.queued("ann"))
}

func TestJoinUnknownUser(t *testing.T) {
	e := newEnv(t)

	_, err := e.matcher.Join(e.ctx, "ghost", "")

	assert.ErrorIs(t, err, matchmaking.ErrUserNotFound)
}

// TestJoinResolvesMode stores the mode key and rejects unknown names.
func TestJoinResolvesMode(t *testing.T) {
	e := newEnv(t)
	e.user("ann", "Ann", "female", "")
	e.matcher.Options = options.NewStatic(map[options.Kind][]options.Option{
		options.KindMode: {{ID: "m-1", Name: "Video"}},
	})

	entry, err := e.matcher.Join(e.ctx, "ann", "video")
	require.NoError(t, err)
	require.NotNil(t, entry.ModeID)
	assert.Equal(t, "m-1", *entry.ModeID)

	_, err = e.matcher.Join(e.ctx, "ann", "carrier pigeon")
	assert.ErrorIs(t, err, options.ErrUnknownOption)
}

// TestPollCancelledWithoutEntry reports cancelled once the user left.
func TestPollCancelledWithoutEntry(t *testing.T) {
	e := newEnv(t)
	e.user("ann", "Ann", "female", "")
	e.join(t, "ann")

	removed, err := e.matcher.Leave(e.ctx, "ann")
	require.NoError(t, err)
	assert.True(t, removed)

	assert.Equal(t, matchmaking.StatusCancelled, e.poll(t, "ann").Status)

	removed, err = e.matcher.Leave(e.ctx, "ann")
	require.NoError(t, err)
	assert.False(t, removed, "leave is idempotent")
}

// TestPollSearchingReportsTiming returns elapsed and remaining time.
func TestPollSearchingReportsTiming(t *testing.T) {
	e := newEnv(t)
	e.user("ann", "Ann", "female", "")
	e.join(t, "ann")
	e.clock.Advance(5 * time.Second)

	res := e.poll(t, "ann")

	assert.Equal(t, matchmaking.StatusSearching, res.Status)
	assert.InDelta(t, 5, *res.TimeElapsed, 0.001)
	assert.InDelta(t, 10, *res.TimeRemaining, 0.001)
	assert.InDelta(t, 3, *res.PollAgainIn, 0.001)
}

// TestPollPairsOldestCompatibleCandidate makes the candidate host and the poller guest.
func TestPollPairsOldestCompatibleCandidate(t *testing.T) {
	// Arrange
	e := newEnv(t)
	e.user("carl", "Carl", "male", "male")
	e.user("ann", "Ann", "female", "male")
	e.user("bob", "Bob", "male", "female")
	e.user("dana", "Dana", "female", "male")

	e.join(t, "carl") // oldest, but looks for men
	e.clock.Advance(time.Second)
	e.join(t, "ann")
	e.clock.Advance(time.Second)
	e.join(t, "dana")
	e.clock.Advance(time.Second)
	e.join(t, "bob")

	// Act
	res := e.poll(t, "bob")

	// Assert
	require.Equal(t, matchmaking.StatusFound, res.Status)
	assert.Equal(t, models.RoleGuest, res.Role)
	assert.Equal(t, "ann", res.Session.HostUID)
	assert.Equal(t, "bob", res.Session.Guest())

	assert.False(t, e.queued("ann"))
	assert.False(t, e.queued("bob"))
	assert.True(t, e.queued("dana"))
	assert.True(t, e.queued("carl"))

	assert.Equal(t, 1, e.notifier.count("ann", models.EventMatchFound))
	assert.Equal(t, 1, e.notifier.count("bob", models.EventMatchFound))
	payload := e.notifier.last("ann", models.EventMatchFound).(matchmaking.MatchFoundPayload)
	assert.Equal(t, "host", payload.Role)
	assert.Equal(t, "bob", payload.PartnerUID)

	// the host's next poll sees the seated session
	hostRes := e.poll(t, "ann")
	assert.Equal(t, matchmaking.StatusFound, hostRes.Status)
	assert.Equal(t, models.RoleHost, hostRes.Role)
}

// TestTimeoutPromotesToHost self-hosts after 15s and keeps the queue row.
func TestTimeoutPromotesToHost(t *testing.T) {
	e := newEnv(t)
	e.user("ann", "Ann", "female", "")
	e.join(t, "ann")

	e.clock.Advance(14 * time.Second)
	assert.Equal(t, matchmaking.StatusSearching, e.poll(t, "ann").Status)

	e.clock.Advance(time.Second)
	res := e.poll(t, "ann")

	require.Equal(t, matchmaking.StatusTimeout, res.Status)
	assert.Equal(t, models.RoleHost, res.Role)
	assert.Equal(t, "ann", res.Session.HostUID)
	assert.Equal(t, models.SessionOpen, res.Session.Status)
	assert.True(t, e.queued("ann"), "host stays discoverable while waiting")

	again := e.poll(t, "ann")
	assert.Equal(t, matchmaking.StatusTimeout, again.Status)
	assert.Equal(t, models.RoleHost, again.Role)
	assert.Equal(t, res.Session.ID, again.Session.ID)
	require.NotNil(t, again.PollAgainIn)
	assert.InDelta(t, 3.0, *again.PollAgainIn, 0.001)
}

// TestLateArrivalJoinsWaitingHost claims the self-hosted session of a queued host.
func TestLateArrivalJoinsWaitingHost(t *testing.T) {
	e := newEnv(t)
	e.user("ann", "Ann", "female", "")
	e.user("bob", "Bob", "male", "")
	e.join(t, "ann")
	e.clock.Advance(16 * time.Second)
	hosted := e.poll(t, "ann")
	require.Equal(t, matchmaking.StatusTimeout, hosted.Status)

	e.join(t, "bob")
	res := e.poll(t, "bob")

	require.Equal(t, matchmaking.StatusFound, res.Status)
	assert.Equal(t, hosted.Session.ID, res.Session.ID)
	assert.Equal(t, models.RoleGuest, res.Role)
	assert.False(t, e.queued("ann"))

	hostRes := e.poll(t, "ann")
	assert.Equal(t, matchmaking.StatusFound, hostRes.Status)
	assert.Equal(t, models.RoleHost, hostRes.Role)
}

// TestHistoryExcludesPreviousMatches never pairs users who already share a chat.
func TestHistoryExcludesPreviousMatches(t *testing.T) {
	e := newEnv(t)
	e.user("ann", "Ann", "female", "")
	e.user("bob", "Bob", "male", "")
	_, _, err := e.store.CreateChat(e.ctx, &models.Chat{UserAUID: "bob", UserBUID: "ann"})
	require.NoError(t, err)

	e.join(t, "ann")
	e.join(t, "bob")

	assert.Equal(t, matchmaking.StatusSearching, e.poll(t, "bob").Status)
	assert.Equal(t, matchmaking.StatusSearching, e.poll(t, "ann").Status)
}

// TestCooldownAfterRecentSession blocks re-pairing for 15 minutes.
func TestCooldownAfterRecentSession(t *testing.T) {
	e := newEnv(t)
	e.user("ann", "Ann", "female", "")
	e.user("bob", "Bob", "male", "")
	e.pair(t, "ann", "bob")
	_, err := e.sessions.Leave(e.ctx, "ann") // abandoned; bob is re-queued
	require.NoError(t, err)
	require.True(t, e.queued("bob"))

	e.join(t, "ann")
	e.clock.Advance(5 * time.Minute)
	e.join(t, "bob")
	assert.Equal(t, matchmaking.StatusSearching, e.poll(t, "ann").Status)

	e.clock.Advance(11 * time.Minute)
	e.join(t, "ann")
	e.join(t, "bob")
	assert.Equal(t, matchmaking.StatusFound, e.poll(t, "bob").Status)
}

// TestIncompatibleUsersStaySearching leaves both waiting.
func TestIncompatibleUsersStaySearching(t *testing.T) {
	e := newEnv(t)
	e.user("ann", "Ann", "female", "female")
	e.user("bob", "Bob", "male", "female")
	e.join(t, "ann")
	e.join(t, "bob")

	assert.Equal(t, matchmaking.StatusSearching, e.poll(t, "bob").Status)
	assert.True(t, e.queued("ann"))
}

// TestConcurrentPollsKeepSessionsExclusive runs many pollers at once and
// checks nobody ends up in two open sessions.
func TestConcurrentPollsKeepSessionsExclusive(t *testing.T) {
	e := newEnv(t)
	const n = 12
	for i := 0; i < n; i++ {
		uid := fmt.Sprintf("u%02d", i)
		e.user(uid, uid, "x", "")
		e.join(t, uid)
	}

	var wg sync.WaitGroup
	for round := 0; round < 3; round++ {
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(uid string) {
				defer wg.Done()
				_, _ = e.matcher.Poll(e.ctx, uid)
			}(fmt.Sprintf("u%02d", i))
		}
		wg.Wait()
	}

	open, err := e.store.ListOpenSessions(e.ctx, 100)
	require.NoError(t, err)
	seen := map[string]int{}
	for _, s := range open {
		seen[s.HostUID]++
		if s.HasGuest() {
			seen[s.Guest()]++
			assert.NotEqual(t, s.HostUID, s.Guest())
		}
	}
	for uid, c := range seen {
		assert.Equal(t, 1, c, "user %s is in %d open sessions", uid, c)
	}
	assert.NotEmpty(t, open)
}

// TestExitMatchmakingDisengagesFully drops queue row and session.
func TestExitMatchmakingDisengagesFully(t *testing.T) {
	e := newEnv(t)
	e.user("ann", "Ann", "female", "")
	e.user("bob", "Bob", "male", "")
	e.join(t, "ann")
	e.clock.Advance(15 * time.Second)
	hosted := e.poll(t, "ann")
	require.Equal(t, matchmaking.StatusTimeout, hosted.Status)
	_, err := e.sessions.ClaimGuestSlot(e.ctx, hosted.Session.ID, "bob")
	require.NoError(t, err)

	require.NoError(t, e.matcher.ExitMatchmaking(e.ctx, "ann"))

	assert.False(t, e.queued("ann"))
	sess, err := e.store.GetSession(e.ctx, hosted.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionAbandoned, sess.Status)
	assert.True(t, e.queued("bob"), "the displaced guest is re-queued")

	// nothing left to leave
	assert.NoError(t, e.matcher.ExitMatchmaking(e.ctx, "ann"))
}

// TestGetState walks idle, searching and in_session.
func TestGetState(t *testing.T) {
	e := newEnv(t)
	e.user("ann", "Ann", "female", "")
	e.user("bob", "Bob", "male", "")

	st, err := e.matcher.GetState(e.ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, matchmaking.StateIdle, st.State)

	e.join(t, "ann")
	e.clock.Advance(4 * time.Second)
	st, err = e.matcher.GetState(e.ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, matchmaking.StateSearching, st.State)
	assert.InDelta(t, 11, *st.TimeRemaining, 0.001)

	e.join(t, "bob")
	require.Equal(t, matchmaking.StatusFound, e.poll(t, "bob").Status)

	st, err = e.matcher.GetState(e.ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, matchmaking.StateInSession, st.State)
	assert.Equal(t, models.RoleHost, st.Role)
	assert.Equal(t, "bob", st.PartnerUID)
	assert.Equal(t, "Bob", st.PartnerName)
}

// TestSweeperEvictsAndPromotes runs one pass over expired and stale rows.
func TestSweeperEvictsAndPromotes(t *testing.T) {
	e := newEnv(t)
	e.user("ann", "Ann", "female", "")
	e.user("bob", "Bob", "male", "female")
	e.user("cat", "Cat", "female", "female")
	e.join(t, "ann")
	e.clock.Advance(60 * time.Second)
	e.join(t, "bob")
	e.clock.Advance(16 * time.Second) // ann expired, bob stale
	e.join(t, "cat")

	res, err := matchmaking.NewSweeper(e.matcher, time.Second).Sweep(e.ctx)

	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Expired)
	assert.Equal(t, 1, res.Promoted)
	assert.False(t, e.queued("ann"))

	view, err := e.sessions.Active(e.ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.RoleHost, view.Role)
	_, err = e.sessions.Active(e.ctx, "cat")
	assert.ErrorIs(t, err, matchmaking.ErrNotInSession)
}

func TestClientConfig(t *testing.T) {
	e := newEnv(t)

	cc := e.matcher.ClientConfig()

	assert.Equal(t, 15.0, cc.TimeoutSeconds)
	assert.Equal(t, 3.0, cc.PollIntervalSeconds)
}
