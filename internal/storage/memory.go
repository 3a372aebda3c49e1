package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"spark/backend/internal/models"
)

// MemoryStore is an in-process Storage for tests and single-instance
// development. Each method is atomic. WithTx restores a snapshot when fn
// fails, so writers outside a transaction wait for it to finish.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	seq          int64
	queue        map[string]queueRow
	sessions     map[string]models.Session
	sessionSeq   map[string]int64
	sessionChats []models.SessionChatEntry
	interactions []models.Interaction
	chats        map[string]models.Chat
	chatMessages []models.ChatMessage
}

type queueRow struct {
	entry models.QueueEntry
	seq   int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queue:      make(map[string]queueRow),
		sessions:   make(map[string]models.Session),
		sessionSeq: make(map[string]int64),
		chats:      make(map[string]models.Chat),
	}
}

type memoryState struct {
	seq          int64
	queue        map[string]queueRow
	sessions     map[string]models.Session
	sessionSeq   map[string]int64
	sessionChats []models.SessionChatEntry
	interactions []models.Interaction
	chats        map[string]models.Chat
	chatMessages []models.ChatMessage
}

func (m *MemoryStore) snapshot() memoryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := memoryState{
		seq:          m.seq,
		queue:        make(map[string]queueRow, len(m.queue)),
		sessions:     make(map[string]models.Session, len(m.sessions)),
		sessionSeq:   make(map[string]int64, len(m.sessionSeq)),
		sessionChats: append([]models.SessionChatEntry(nil), m.sessionChats...),
		interactions: append([]models.Interaction(nil), m.interactions...),
		chats:        make(map[string]models.Chat, len(m.chats)),
		chatMessages: append([]models.ChatMessage(nil), m.chatMessages...),
	}
	for k, v := range m.queue {
		st.queue[k] = v
	}
	for k, v := range m.sessions {
		st.sessions[k] = v
	}
	for k, v := range m.sessionSeq {
		st.sessionSeq[k] = v
	}
	for k, v := range m.chats {
		st.chats[k] = v
	}
	return st
}

func (m *MemoryStore) restore(st memoryState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = st.seq
	m.queue = st.queue
	m.sessions = st.sessions
	m.sessionSeq = st.sessionSeq
	m.sessionChats = st.sessionChats
	m.interactions = st.interactions
	m.chats = st.chats
	m.chatMessages = st.chatMessages
}

// memoryTx is the Storage handed to WithTx callbacks. Nested WithTx calls
// join the running transaction.
type memoryTx struct {
	*MemoryStore
}

func (t memoryTx) WithTx(ctx context.Context, fn func(tx Storage) error) error {
	return fn(t)
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Storage) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	st := m.snapshot()
	if err := fn(memoryTx{m}); err != nil {
		m.restore(st)
		return err
	}
	return nil
}

// exclusive keeps a write made outside WithTx from landing inside a running
// transaction, where a rollback would silently undo it.
func (m *MemoryStore) exclusive() func() {
	m.txMu.Lock()
	return m.txMu.Unlock
}

func (m *MemoryStore) UpsertQueueEntry(ctx context.Context, e *models.QueueEntry) error {
	defer m.exclusive()()
	return m.upsertQueueEntry(ctx, e)
}

func (m *MemoryStore) DeleteQueueEntry(ctx context.Context, uid string) (bool, error) {
	defer m.exclusive()()
	return m.deleteQueueEntry(ctx, uid)
}

func (m *MemoryStore) DeleteExpiredQueueEntries(ctx context.Context, now time.Time) (int64, error) {
	defer m.exclusive()()
	return m.deleteExpiredQueueEntries(ctx, now)
}

func (m *MemoryStore) CreateSession(ctx context.Context, s *models.Session) error {
	defer m.exclusive()()
	return m.createSession(ctx, s)
}

func (m *MemoryStore) ClaimGuestSlot(ctx context.Context, sessionID, guestUID string) (*models.Session, error) {
	defer m.exclusive()()
	return m.claimGuestSlot(ctx, sessionID, guestUID)
}

func (m *MemoryStore) CloseSession(ctx context.Context, sessionID string, status models.SessionStatus, at time.Time) (*models.Session, error) {
	defer m.exclusive()()
	return m.closeSession(ctx, sessionID, status, at)
}

func (m *MemoryStore) ClearGuest(ctx context.Context, sessionID, guestUID string) (*models.Session, error) {
	defer m.exclusive()()
	return m.clearGuest(ctx, sessionID, guestUID)
}

func (m *MemoryStore) AddSessionChatEntry(ctx context.Context, e *models.SessionChatEntry) error {
	defer m.exclusive()()
	return m.addSessionChatEntry(ctx, e)
}

func (m *MemoryStore) CreateInteraction(ctx context.Context, i *models.Interaction) (*models.Interaction, bool, error) {
	defer m.exclusive()()
	return m.createInteraction(ctx, i)
}

func (m *MemoryStore) CreateChat(ctx context.Context, c *models.Chat) (*models.Chat, bool, error) {
	defer m.exclusive()()
	return m.createChat(ctx, c)
}

func (m *MemoryStore) AddChatMessage(ctx context.Context, msg *models.ChatMessage) error {
	defer m.exclusive()()
	return m.addChatMessage(ctx, msg)
}

// Всередині транзакції txMu вже захоплено.

func (t memoryTx) UpsertQueueEntry(ctx context.Context, e *models.QueueEntry) error {
	return t.upsertQueueEntry(ctx, e)
}

func (t memoryTx) DeleteQueueEntry(ctx context.Context, uid string) (bool, error) {
	return t.deleteQueueEntry(ctx, uid)
}

func (t memoryTx) DeleteExpiredQueueEntries(ctx context.Context, now time.Time) (int64, error) {
	return t.deleteExpiredQueueEntries(ctx, now)
}

func (t memoryTx) CreateSession(ctx context.Context, s *models.Session) error {
	return t.createSession(ctx, s)
}

func (t memoryTx) ClaimGuestSlot(ctx context.Context, sessionID, guestUID string) (*models.Session, error) {
	return t.claimGuestSlot(ctx, sessionID, guestUID)
}

func (t memoryTx) CloseSession(ctx context.Context, sessionID string, status models.SessionStatus, at time.Time) (*models.Session, error) {
	return t.closeSession(ctx, sessionID, status, at)
}

func (t memoryTx) ClearGuest(ctx context.Context, sessionID, guestUID string) (*models.Session, error) {
	return t.clearGuest(ctx, sessionID, guestUID)
}

func (t memoryTx) AddSessionChatEntry(ctx context.Context, e *models.SessionChatEntry) error {
	return t.addSessionChatEntry(ctx, e)
}

func (t memoryTx) CreateInteraction(ctx context.Context, i *models.Interaction) (*models.Interaction, bool, error) {
	return t.createInteraction(ctx, i)
}

func (t memoryTx) CreateChat(ctx context.Context, c *models.Chat) (*models.Chat, bool, error) {
	return t.createChat(ctx, c)
}

func (t memoryTx) AddChatMessage(ctx context.Context, msg *models.ChatMessage) error {
	return t.addChatMessage(ctx, msg)
}

func (m *MemoryStore) nextSeq() int64 {
	m.seq++
	return m.seq
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// --- черга ---

func (m *MemoryStore) upsertQueueEntry(ctx context.Context, e *models.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue[e.UserID] = queueRow{entry: *e, seq: m.nextSeq()}
	return nil
}

func (m *MemoryStore) GetQueueEntry(ctx context.Context, uid string, now time.Time) (*models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.queue[uid]
	if !ok || !row.entry.Live(now) {
		return nil, ErrNotFound
	}
	e := row.entry
	return &e, nil
}

func (m *MemoryStore) deleteQueueEntry(ctx context.Context, uid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.queue[uid]
	delete(m.queue, uid)
	return ok, nil
}

// liveQueue returns live rows oldest first (must be called with mu held).
func (m *MemoryStore) liveQueue(now time.Time) []queueRow {
	rows := make([]queueRow, 0, len(m.queue))
	for _, r := range m.queue {
		if r.entry.Live(now) {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].entry.EnqueuedAt.Equal(rows[j].entry.EnqueuedAt) {
			return rows[i].entry.EnqueuedAt.Before(rows[j].entry.EnqueuedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	return rows
}

func (m *MemoryStore) ListQueueCandidates(ctx context.Context, excludeUID string, now time.Time, limit int) ([]models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.QueueEntry
	for _, r := range m.liveQueue(now) {
		if r.entry.UserID == excludeUID {
			continue
		}
		out = append(out, r.entry)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ListStaleWaiters(ctx context.Context, cutoff, now time.Time, limit int) ([]models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.QueueEntry
	for _, r := range m.liveQueue(now) {
		if r.entry.EnqueuedAt.After(cutoff) || m.openSessionOf(r.entry.UserID) != nil {
			continue
		}
		out = append(out, r.entry)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) deleteExpiredQueueEntries(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for uid, r := range m.queue {
		if !r.entry.Live(now) {
			delete(m.queue, uid)
			n++
		}
	}
	return n, nil
}

// --- сесії ---

// openSessionOf must be called with mu held.
func (m *MemoryStore) openSessionOf(uid string) *models.Session {
	for _, s := range m.sessions {
		if s.Status == models.SessionOpen && (s.HostUID == uid || s.Guest() == uid) {
			cp := s
			return &cp
		}
	}
	return nil
}

func (m *MemoryStore) createSession(ctx context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openSessionOf(s.HostUID) != nil {
		return fmt.Errorf("%w: %s already in an open session", ErrConflict, s.HostUID)
	}
	_ = s.BeforeCreate(nil)
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("%w: duplicate session id %s", ErrConflict, s.ID)
	}
	if s.Status == "" {
		s.Status = models.SessionOpen
	}
	s.StartedAt = stamp(s.StartedAt)
	m.sessions[s.ID] = *s
	m.sessionSeq[s.ID] = m.nextSeq()
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

// LockSession is GetSession; WithTx already serializes writers.
func (m *MemoryStore) LockSession(ctx context.Context, id string) (*models.Session, error) {
	return m.GetSession(ctx, id)
}

func (m *MemoryStore) GetOpenSessionForUser(ctx context.Context, uid string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.openSessionOf(uid); s != nil {
		return s, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) claimGuestSlot(ctx context.Context, sessionID, guestUID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.HasGuest() || s.Status != models.SessionOpen || s.ClosedAt != nil ||
		s.HostUID == guestUID || m.openSessionOf(guestUID) != nil {
		return nil, fmt.Errorf("%w: session %s not available", ErrConflict, sessionID)
	}
	guest := guestUID
	s.GuestUID = &guest
	m.sessions[sessionID] = s
	return &s, nil
}

func (m *MemoryStore) closeSession(ctx context.Context, sessionID string, status models.SessionStatus, at time.Time) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != models.SessionOpen {
		return nil, fmt.Errorf("%w: session %s is not open", ErrConflict, sessionID)
	}
	closedAt := at
	s.Status = status
	s.ClosedAt = &closedAt
	m.sessions[sessionID] = s
	return &s, nil
}

func (m *MemoryStore) clearGuest(ctx context.Context, sessionID, guestUID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != models.SessionOpen || s.Guest() != guestUID {
		return nil, fmt.Errorf("%w: %s is not the guest of %s", ErrConflict, guestUID, sessionID)
	}
	s.GuestUID = nil
	m.sessions[sessionID] = s
	return &s, nil
}

func (m *MemoryStore) ListOpenSessionsForQueuedHosts(ctx context.Context, excludeUID string, now time.Time, limit int) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, r := range m.liveQueue(now) {
		if r.entry.UserID == excludeUID {
			continue
		}
		for _, s := range m.sortedSessions() {
			if s.HostUID == r.entry.UserID && s.Status == models.SessionOpen && !s.HasGuest() && s.ClosedAt == nil {
				out = append(out, s)
			}
		}
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
	}
	return out, nil
}

func (m *MemoryStore) ListOpenSessions(ctx context.Context, limit int) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, s := range m.sortedSessions() {
		if s.Status != models.SessionOpen {
			continue
		}
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// sortedSessions returns all sessions in creation order (must be called with mu held).
func (m *MemoryStore) sortedSessions() []models.Session {
	out := make([]models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return m.sessionSeq[out[i].ID] < m.sessionSeq[out[j].ID] })
	return out
}

// --- чат сесії ---

func (m *MemoryStore) addSessionChatEntry(ctx context.Context, e *models.SessionChatEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = e.BeforeCreate(nil)
	e.CreatedAt = stamp(e.CreatedAt)
	m.sessionChats = append(m.sessionChats, *e)
	return nil
}

func (m *MemoryStore) ListSessionChatEntries(ctx context.Context, sessionID string, limit int) ([]models.SessionChatEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SessionChatEntry
	for _, e := range m.sessionChats {
		if e.SessionID != sessionID {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- взаємодії ---

func (m *MemoryStore) createInteraction(ctx context.Context, i *models.Interaction) (*models.Interaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.findInteraction(i.Kind, i.FromUID, i.SessionID); existing != nil {
		return existing, false, nil
	}
	_ = i.BeforeCreate(nil)
	i.CreatedAt = stamp(i.CreatedAt)
	m.interactions = append(m.interactions, *i)
	cp := *i
	return &cp, true, nil
}

func (m *MemoryStore) FindInteraction(ctx context.Context, kind, fromUID, sessionID string) (*models.Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.findInteraction(kind, fromUID, sessionID); i != nil {
		return i, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) findInteraction(kind, fromUID, sessionID string) *models.Interaction {
	for _, i := range m.interactions {
		if i.Kind == kind && i.FromUID == fromUID && i.SessionID == sessionID {
			cp := i
			return &cp
		}
	}
	return nil
}

// InteractionCount returns the number of stored interactions.
func (m *MemoryStore) InteractionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.interactions)
}

// --- чати ---

func (m *MemoryStore) chatForPair(a, b string) *models.Chat {
	a, b = models.CanonicalPair(a, b)
	for _, c := range m.chats {
		if c.UserAUID == a && c.UserBUID == b {
			cp := c
			return &cp
		}
	}
	return nil
}

func (m *MemoryStore) createChat(ctx context.Context, c *models.Chat) (*models.Chat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.chatForPair(c.UserAUID, c.UserBUID); existing != nil {
		return existing, false, nil
	}
	c.UserAUID, c.UserBUID = models.CanonicalPair(c.UserAUID, c.UserBUID)
	_ = c.BeforeCreate(nil)
	c.CreatedAt = stamp(c.CreatedAt)
	if c.Status == "" {
		c.Status = models.ChatActive
	}
	m.chats[c.ID] = *c
	cp := *c
	return &cp, true, nil
}

func (m *MemoryStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) GetChatForPair(ctx context.Context, a, b string) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.chatForPair(a, b); c != nil {
		return c, nil
	}
	return nil, ErrNotFound
}

// ChatCount returns the number of stored chats.
func (m *MemoryStore) ChatCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chats)
}

func (m *MemoryStore) ListChatsForUser(ctx context.Context, uid string) ([]models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Chat
	for _, c := range m.chats {
		if c.Has(uid) {
			out = append(out, c)
		}
	}
	activity := func(c models.Chat) time.Time {
		if c.LastMessageAt != nil {
			return *c.LastMessageAt
		}
		return c.CreatedAt
	}
	sort.Slice(out, func(i, j int) bool { return activity(out[i]).After(activity(out[j])) })
	return out, nil
}

func (m *MemoryStore) addChatMessage(ctx context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[msg.ChatID]
	if !ok {
		return ErrNotFound
	}
	_ = msg.BeforeCreate(nil)
	msg.CreatedAt = stamp(msg.CreatedAt)
	m.chatMessages = append(m.chatMessages, *msg)
	at := msg.CreatedAt
	c.LastMessageAt = &at
	m.chats[c.ID] = c
	return nil
}

func (m *MemoryStore) ListChatMessages(ctx context.Context, chatID string, limit int) ([]models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChatMessage
	for _, msg := range m.chatMessages {
		if msg.ChatID != chatID {
			continue
		}
		out = append(out, msg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- джерело історії ---

// ChatExistsForPair reports whether the pair already has a durable chat.
func (m *MemoryStore) ChatExistsForPair(ctx context.Context, a, b string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chatForPair(a, b) != nil, nil
}

// LastSessionEndBetween returns the latest closed_at of a finished session
// shared by a and b, or nil.
func (m *MemoryStore) LastSessionEndBetween(ctx context.Context, a, b string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *time.Time
	for _, s := range m.sessions {
		if s.ClosedAt == nil {
			continue
		}
		pair := (s.HostUID == a && s.Guest() == b) || (s.HostUID == b && s.Guest() == a)
		if pair && (last == nil || s.ClosedAt.After(*last)) {
			t := *s.ClosedAt
			last = &t
		}
	}
	return last, nil
}
