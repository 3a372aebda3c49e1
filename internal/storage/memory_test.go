package storage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spark/backend/internal/models"
	"spark/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ storage.Storage = (*storage.MemoryStore)(nil)
	_ storage.Storage = (*storage.Service)(nil)
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func enqueue(t *testing.T, s storage.Storage, uid string, at time.Time) {
	t.Helper()
	require.NoError(t, s.UpsertQueueEntry(context.Background(), &models.QueueEntry{
		UserID:     uid,
		EnqueuedAt: at,
		ExpiresAt:  at.Add(75 * time.Second),
	}))
}

// TestQueueUpsertReplaces verifies there is never more than one row per user.
func TestQueueUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()

	enqueue(t, s, "u1", t0)
	enqueue(t, s, "u1", t0.Add(5*time.Second))

	entries, err := s.ListQueueCandidates(ctx, "", t0.Add(6*time.Second), 20)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, t0.Add(5*time.Second), entries[0].EnqueuedAt)
}

// TestQueueOrderingAndExpiry checks oldest-first order and expiry filtering.
func TestQueueOrderingAndExpiry(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	enqueue(t, s, "late", t0.Add(10*time.Second))
	enqueue(t, s, "early", t0)
	enqueue(t, s, "me", t0.Add(2*time.Second))

	entries, err := s.ListQueueCandidates(ctx, "me", t0.Add(11*time.Second), 20)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "early", entries[0].UserID)
	assert.Equal(t, "late", entries[1].UserID)

	// early expires at t0+75s
	_, err = s.GetQueueEntry(ctx, "early", t0.Add(75*time.Second))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	n, err := s.DeleteExpiredQueueEntries(ctx, t0.Add(80*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	existed, err := s.DeleteQueueEntry(ctx, "late")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, _ = s.DeleteQueueEntry(ctx, "late")
	assert.False(t, existed)
}

// TestClaimGuestSlotIsAtomic runs many concurrent claimants; exactly one wins.
func TestClaimGuestSlotIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	sess := &models.Session{HostUID: "host", StartedAt: t0}
	require.NoError(t, s.CreateSession(ctx, sess))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.ClaimGuestSlot(ctx, sess.ID, string(rune('a'+n)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, storage.ErrConflict) {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 9, conflicts)
}

// TestClaimRejectsHostAndBusyGuests covers the CAS preconditions.
func TestClaimRejectsHostAndBusyGuests(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	a := &models.Session{HostUID: "a", StartedAt: t0}
	b := &models.Session{HostUID: "b", StartedAt: t0}
	require.NoError(t, s.CreateSession(ctx, a))
	require.NoError(t, s.CreateSession(ctx, b))

	_, err := s.ClaimGuestSlot(ctx, a.ID, "a")
	assert.ErrorIs(t, err, storage.ErrConflict, "host cannot be their own guest")

	_, err = s.ClaimGuestSlot(ctx, a.ID, "b")
	assert.ErrorIs(t, err, storage.ErrConflict, "b already hosts an open session")

	err = s.CreateSession(ctx, &models.Session{HostUID: "a", StartedAt: t0})
	assert.ErrorIs(t, err, storage.ErrConflict)
}

// TestGuestLeaveRoundTrip verifies a cleared slot can be claimed by someone else.
func TestGuestLeaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	sess := &models.Session{HostUID: "host", StartedAt: t0}
	require.NoError(t, s.CreateSession(ctx, sess))

	_, err := s.ClaimGuestSlot(ctx, sess.ID, "g1")
	require.NoError(t, err)

	cleared, err := s.ClearGuest(ctx, sess.ID, "g1")
	require.NoError(t, err)
	assert.Nil(t, cleared.GuestUID)
	assert.Equal(t, models.SessionOpen, cleared.Status)
	assert.Nil(t, cleared.ClosedAt)

	claimed, err := s.ClaimGuestSlot(ctx, sess.ID, "g2")
	require.NoError(t, err)
	assert.Equal(t, "g2", claimed.Guest())
}

// TestCloseSessionOnlyOnce ensures a finished session cannot be closed again.
func TestCloseSessionOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	sess := &models.Session{HostUID: "host", StartedAt: t0}
	require.NoError(t, s.CreateSession(ctx, sess))

	closed, err := s.CloseSession(ctx, sess.ID, models.SessionClosed, t0.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, models.SessionClosed, closed.Status)

	_, err = s.CloseSession(ctx, sess.ID, models.SessionAbandoned, t0.Add(2*time.Minute))
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, err = s.GetOpenSessionForUser(ctx, "host")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// TestWithTxRollsBack restores the previous state when the callback fails.
func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx storage.Storage) error {
		enqueue(t, tx, "u1", t0)
		require.NoError(t, tx.CreateSession(ctx, &models.Session{HostUID: "u1", StartedAt: t0}))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	_, err = s.GetQueueEntry(ctx, "u1", t0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetOpenSessionForUser(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// TestWriteOutsideTxSurvivesRollback keeps a concurrent delete that was made
// while a failing transaction was running.
func TestWriteOutsideTxSurvivesRollback(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	enqueue(t, s, "u1", t0)
	boom := errors.New("boom")

	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-started
		removed, err := s.DeleteQueueEntry(ctx, "u1")
		assert.NoError(t, err)
		assert.True(t, removed)
	}()

	err := s.WithTx(ctx, func(tx storage.Storage) error {
		enqueue(t, tx, "u2", t0)
		close(started)
		time.Sleep(50 * time.Millisecond)
		return boom
	})
	wg.Wait()

	assert.ErrorIs(t, err, boom)
	_, err = s.GetQueueEntry(ctx, "u1", t0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetQueueEntry(ctx, "u2", t0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// TestInteractionAndChatAreInsertIfAbsent covers the idempotent inserts.
func TestInteractionAndChatAreInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()

	first, created, err := s.CreateInteraction(ctx, &models.Interaction{Kind: "match", FromUID: "a", ToUID: "b", SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.CreateInteraction(ctx, &models.Interaction{Kind: "match", FromUID: "a", ToUID: "b", SessionID: "s1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, s.InteractionCount())

	c1, created, err := s.CreateChat(ctx, &models.Chat{UserAUID: "zed", UserBUID: "amy"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "amy", c1.UserAUID)

	c2, created, err := s.CreateChat(ctx, &models.Chat{UserAUID: "amy", UserBUID: "zed"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c1.ID, c2.ID)

	ok, err := s.ChatExistsForPair(ctx, "zed", "amy")
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestOpenSessionsForQueuedHosts only returns unclaimed sessions of live queue members.
func TestOpenSessionsForQueuedHosts(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	enqueue(t, s, "h1", t0)
	enqueue(t, s, "h2", t0.Add(time.Second))
	require.NoError(t, s.CreateSession(ctx, &models.Session{HostUID: "h2", StartedAt: t0}))
	require.NoError(t, s.CreateSession(ctx, &models.Session{HostUID: "h1", StartedAt: t0}))
	require.NoError(t, s.CreateSession(ctx, &models.Session{HostUID: "unqueued", StartedAt: t0}))

	out, err := s.ListOpenSessionsForQueuedHosts(ctx, "guest", t0.Add(2*time.Second), 20)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "h1", out[0].HostUID)
	assert.Equal(t, "h2", out[1].HostUID)

	stale, err := s.ListStaleWaiters(ctx, t0.Add(5*time.Second), t0.Add(6*time.Second), 20)
	require.NoError(t, err)
	assert.Empty(t, stale, "both waiters already host a session")
}
