package events_test

import (
	"context"
	"errors"
	"testing"

	"spark/backend/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(routingKey, event)
	return args.Error(0)
}

func (m *MockPublisher) Close() error { return nil }

// TestNewPublisherWithoutURLIsNoop keeps the service running without a broker.
func TestNewPublisherWithoutURLIsNoop(t *testing.T) {
	p := events.NewPublisher("", "spark.events")

	assert.Equal(t, "noop", events.PublisherMode(p))
	assert.NoError(t, p.Publish(context.Background(), events.QueueJoined, map[string]string{"uid": "u1"}))
	assert.NoError(t, p.Close())
}

// TestEmitterWrapsPayloadInEnvelope checks the envelope fields.
func TestEmitterWrapsPayloadInEnvelope(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", events.SessionCreated, mock.MatchedBy(func(ev any) bool {
		env, ok := ev.(events.Envelope)
		return ok && env.EventType == events.SessionCreated && env.Service == "spark" && env.SchemaVersion == 1
	})).Return(nil).Once()

	events.NewEmitter(pub, "spark").Emit(context.Background(), events.SessionCreated, map[string]string{"session_id": "s1"})

	pub.AssertExpectations(t)
}

// TestEmitterSwallowsErrors never propagates broker failures.
func TestEmitterSwallowsErrors(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("channel closed"))
	failures := 0

	e := events.NewEmitter(pub, "spark")
	e.OnError(func() { failures++ })
	e.Emit(context.Background(), events.MatchMutual, nil)

	assert.Equal(t, 1, failures)

	var nilEmitter *events.Emitter
	assert.NotPanics(t, func() { nilEmitter.Emit(context.Background(), events.MatchMutual, nil) })
}
