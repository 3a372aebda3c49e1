package telemetry_test

import (
	"context"
	"testing"

	"spark/backend/internal/config"
	"spark/backend/internal/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSetupDisabled leaves the no-op provider and returns a usable shutdown.
func TestSetupDisabled(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), config.TelemetryConfig{ServiceName: "spark"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, span := telemetry.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}
