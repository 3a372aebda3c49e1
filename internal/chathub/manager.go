package chathub

import (
	"context"
	"sync"
	"time"

	"spark/backend/internal/logging"
	"spark/backend/internal/models"
	"spark/backend/internal/observability"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Delivery labels reported to the notifications metric.
const (
	DeliveryLocal   = "local"
	DeliveryRelay   = "relay"
	DeliveryOffline = "offline"
	DeliveryDropped = "dropped"
)

const (
	defaultQueueSize = 1024
	defaultWorkers   = 4
	deliveryTimeout  = 10 * time.Second
)

// OfflineNotifier pushes an event to a user who has no realtime connection.
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, uid, event string, payload any)
}

// MessageRouter stores a session chat line sent over a realtime connection.
type MessageRouter interface {
	AddChatMessage(ctx context.Context, sessionID, authorUID, content string) (*models.SessionChatEntry, error)
}

// Relay fans events out to the other instances and tracks who is connected
// anywhere in the cluster.
type Relay interface {
	Publish(ctx context.Context, env models.RelayEnvelope) error
	SetPresence(ctx context.Context, uid string, online bool) error
	Present(ctx context.Context, uid string) (bool, error)
}

// delivery is one notification waiting for a remote hop (relay or push).
type delivery struct {
	ctx     context.Context
	uid     string
	event   string
	payload any
	// offlineOnly skips the relay: the event already missed the local client.
	offlineOnly bool
}

// ManagerService keeps the realtime connections of this instance and
// implements matchmaking.Notifier on top of them.
//
// Notify never waits on the network: local clients get the event straight
// into their buffer, anything remote goes through a bounded queue drained by
// Serve. A full queue drops the event.
type ManagerService struct {
	mu      sync.RWMutex
	Clients map[string]Client

	Relay   Relay
	Offline OfflineNotifier
	Router  MessageRouter

	// Workers is the number of goroutines Serve runs; set before Serve.
	Workers int

	queue      chan delivery
	instanceID string
}

func NewManagerService() *ManagerService {
	return NewManagerServiceWithQueue(defaultQueueSize)
}

// NewManagerServiceWithQueue sizes the remote delivery queue.
func NewManagerServiceWithQueue(size int) *ManagerService {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &ManagerService{
		Clients:    make(map[string]Client),
		Workers:    defaultWorkers,
		queue:      make(chan delivery, size),
		instanceID: uuid.NewString(),
	}
}

// InstanceID identifies this process on the relay channel.
func (m *ManagerService) InstanceID() string { return m.instanceID }

// Register makes c the connection of its user. An older connection of the
// same user is closed and keeps its presence slot for the new one.
func (m *ManagerService) Register(c Client) {
	uid := c.GetUserID()

	m.mu.Lock()
	old, exists := m.Clients[uid]
	m.Clients[uid] = c
	if exists {
		old.Close()
	}
	m.mu.Unlock()

	if !exists {
		observability.IncWSActive()
		m.presence(uid, true)
	}
	logging.Info().Str("uid", uid).Bool("replaced", exists).Msg("client registered")
}

// Unregister drops c if it is still the registered connection of its user.
func (m *ManagerService) Unregister(c Client) {
	uid := c.GetUserID()

	m.mu.Lock()
	current, ok := m.Clients[uid]
	if !ok || current != c {
		m.mu.Unlock()
		return
	}
	delete(m.Clients, uid)
	c.Close()
	m.mu.Unlock()

	observability.DecWSActive()
	m.presence(uid, false)
	logging.Info().Str("uid", uid).Msg("client unregistered")
}

func (m *ManagerService) presence(uid string, online bool) {
	if m.Relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	if err := m.Relay.SetPresence(ctx, uid, online); err != nil {
		logging.Warn().Err(err).Str("uid", uid).Bool("online", online).Msg("presence update failed")
	}
}

// IsOnline повертає локальне з'єднання uid.
func (m *ManagerService) IsOnline(uid string) (Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.Clients[uid]
	return c, ok
}

// Emit queues an event on c without blocking. It reports false when c is no
// longer registered or its buffer is full.
func (m *ManagerService) Emit(c Client, event string, payload any) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if current, ok := m.Clients[c.GetUserID()]; !ok || current != c {
		return false
	}
	select {
	case c.GetSendChannel() <- models.Event{Type: event, Payload: payload}:
		return true
	default:
		return false
	}
}

// deliverLocal передає подію локальному з'єднанню uid, якщо воно є.
func (m *ManagerService) deliverLocal(uid, event string, payload any) bool {
	c, ok := m.IsOnline(uid)
	if !ok {
		return false
	}
	if !m.Emit(c, event, payload) {
		logging.Warn().Str("uid", uid).Str("event", event).Msg("client buffer full, event dropped")
		return false
	}
	return true
}

// Notify delivers an event to uid wherever they are connected. Users with no
// connection get a push for the events worth waking them up for.
func (m *ManagerService) Notify(ctx context.Context, uid, event string, payload any) {
	if m.Relay == nil {
		if m.deliverLocal(uid, event, payload) {
			observability.IncNotification(event, DeliveryLocal)
			return
		}
		if m.Offline == nil || !pushable(event) {
			observability.IncNotification(event, DeliveryDropped)
			return
		}
		m.enqueue(delivery{ctx: ctx, uid: uid, event: event, payload: payload, offlineOnly: true})
		return
	}
	m.enqueue(delivery{ctx: ctx, uid: uid, event: event, payload: payload})
}

func (m *ManagerService) enqueue(d delivery) {
	// контекст запиту завершиться разом із запитом, беремо лише його значення
	d.ctx = context.WithoutCancel(d.ctx)
	select {
	case m.queue <- d:
	default:
		logging.Warn().Str("uid", d.uid).Str("event", d.event).Msg("delivery queue full, event dropped")
		observability.IncNotification(d.event, DeliveryDropped)
	}
}

// Serve запускає воркери доставки, доки ctx не скасовано.
func (m *ManagerService) Serve(ctx context.Context) error {
	workers := m.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d := <-m.queue:
					m.deliver(d)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (m *ManagerService) String() string { return "notification-hub" }

func (m *ManagerService) deliver(d delivery) {
	ctx, cancel := context.WithTimeout(d.ctx, deliveryTimeout)
	defer cancel()

	if d.offlineOnly {
		m.offline(ctx, d.uid, d.event, d.payload)
		return
	}

	raw, err := json.Marshal(d.payload)
	if err != nil {
		logging.Error().Err(err).Str("event", d.event).Msg("failed to encode notification")
		observability.IncNotification(d.event, DeliveryDropped)
		return
	}

	env := models.RelayEnvelope{UserID: d.uid, Type: d.event, Payload: raw, Origin: m.instanceID}
	if err := m.Relay.Publish(ctx, env); err != nil {
		logging.Warn().Err(err).Str("uid", d.uid).Str("event", d.event).Msg("relay publish failed, delivering locally")
		if m.deliverLocal(d.uid, d.event, d.payload) {
			observability.IncNotification(d.event, DeliveryLocal)
			return
		}
		m.offline(ctx, d.uid, d.event, d.payload)
		return
	}
	observability.IncNotification(d.event, DeliveryRelay)

	online, err := m.Relay.Present(ctx, d.uid)
	if err != nil {
		logging.Warn().Err(err).Str("uid", d.uid).Msg("presence lookup failed")
		return
	}
	if !online {
		m.offline(ctx, d.uid, d.event, d.payload)
	}
}

// HandleRelay доставляє конверт, отриманий з каналу relay.
func (m *ManagerService) HandleRelay(env models.RelayEnvelope) {
	if m.deliverLocal(env.UserID, env.Type, env.Payload) {
		observability.IncNotification(env.Type, DeliveryLocal)
	}
}

func (m *ManagerService) offline(ctx context.Context, uid, event string, payload any) {
	if m.Offline == nil || !pushable(event) {
		observability.IncNotification(event, DeliveryDropped)
		return
	}
	m.Offline.NotifyOffline(ctx, uid, event, payload)
	observability.IncNotification(event, DeliveryOffline)
}

func pushable(event string) bool {
	return event == models.EventMatchFound || event == models.EventMutualMatch
}
