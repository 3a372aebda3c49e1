// Package events publishes matchmaking domain events to a RabbitMQ topic exchange.
package events

import (
	"context"
	"time"

	"spark/backend/internal/logging"

	json "github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys.
const (
	QueueJoined    = "matchmaking.queue.joined"
	SessionCreated = "matchmaking.session.created"
	SessionClaimed = "matchmaking.session.claimed"
	SessionLeft    = "matchmaking.session.left"
	MatchRecorded  = "matchmaking.match.recorded"
	MatchMutual    = "matchmaking.match.mutual"
)

// Publisher publishes domain events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Envelope wraps every published payload.
type Envelope struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	OccurredAt    string `json:"occurred_at"`
	Service       string `json:"service"`
	Payload       any    `json:"payload"`
}

// NewPublisher builds a RabbitMQ publisher or a noop publisher when AMQP is disabled.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		logging.Info().Msg("rabbitmq disabled, using noop: empty amqp url")
		return noopPublisher{reason: "empty amqp url"}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		logging.Warn().Err(err).Msg("rabbitmq disabled, using noop")
		return noopPublisher{reason: err.Error()}
	}

	ch, err := conn.Channel()
	if err != nil {
		logging.Warn().Err(err).Msg("rabbitmq disabled, using noop")
		_ = conn.Close()
		return noopPublisher{reason: err.Error()}
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		logging.Warn().Err(err).Msg("rabbitmq disabled, using noop")
		_ = ch.Close()
		_ = conn.Close()
		return noopPublisher{reason: err.Error()}
	}

	logging.Info().Str("exchange", exchange).Msg("rabbitmq connected")
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange}
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	logging.Debug().Str("routing_key", routingKey).Msg("rabbitmq noop publish")
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// NewNoop returns a publisher that only logs.
func NewNoop() Publisher {
	return noopPublisher{reason: "disabled"}
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// Emitter stamps envelopes and swallows publish failures.
type Emitter struct {
	publisher Publisher
	service   string
	now       func() time.Time
	onError   func()
}

func NewEmitter(p Publisher, service string) *Emitter {
	return &Emitter{publisher: p, service: service, now: time.Now}
}

// OnError registers a hook called after every failed publish.
func (e *Emitter) OnError(fn func()) {
	if e != nil {
		e.onError = fn
	}
}

// Emit publishes payload under routingKey. Failures are logged only.
func (e *Emitter) Emit(ctx context.Context, routingKey string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}
	envelope := Envelope{
		SchemaVersion: 1,
		EventType:     routingKey,
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Payload:       payload,
	}
	if err := e.publisher.Publish(ctx, routingKey, envelope); err != nil {
		logging.Warn().Err(err).Str("routing_key", routingKey).Msg("event publish failed")
		if e.onError != nil {
			e.onError()
		}
	}
}
