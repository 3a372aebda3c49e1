package chathub

import (
	"context"
	"fmt"

	"spark/backend/internal/logging"
	"spark/backend/internal/models"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultRelayChannel = "spark:notify"
	DefaultPresenceKey  = "spark:presence"
)

// RedisRelay fans notifications out to every instance over Redis Pub/Sub and
// keeps a per-user connection count in a hash.
type RedisRelay struct {
	Client      *redis.Client
	Channel     string
	PresenceKey string
	Hub         *ManagerService
}

func NewRedisRelay(client *redis.Client, hub *ManagerService) *RedisRelay {
	return &RedisRelay{
		Client:      client,
		Channel:     DefaultRelayChannel,
		PresenceKey: DefaultPresenceKey,
		Hub:         hub,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, env models.RelayEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode relay envelope: %w", err)
	}
	if err := r.Client.Publish(ctx, r.Channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.Channel, err)
	}
	return nil
}

func (r *RedisRelay) SetPresence(ctx context.Context, uid string, online bool) error {
	delta := int64(1)
	if !online {
		delta = -1
	}
	n, err := r.Client.HIncrBy(ctx, r.PresenceKey, uid, delta).Result()
	if err != nil {
		return fmt.Errorf("failed to update presence of %s: %w", uid, err)
	}
	if n <= 0 {
		return r.Client.HDel(ctx, r.PresenceKey, uid).Err()
	}
	return nil
}

func (r *RedisRelay) Present(ctx context.Context, uid string) (bool, error) {
	ok, err := r.Client.HExists(ctx, r.PresenceKey, uid).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read presence of %s: %w", uid, err)
	}
	return ok, nil
}

// Serve слухає Redis Pub/Sub і передає події локальним клієнтам.
func (r *RedisRelay) Serve(ctx context.Context) error {
	pubsub := r.Client.Subscribe(ctx, r.Channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.Channel, err)
	}
	logging.Info().Str("channel", r.Channel).Msg("relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("relay channel %s closed", r.Channel)
			}
			var env models.RelayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logging.Warn().Err(err).Msg("malformed relay envelope")
				continue
			}
			r.Hub.HandleRelay(env)
		}
	}
}

func (r *RedisRelay) String() string { return "redis-relay" }
