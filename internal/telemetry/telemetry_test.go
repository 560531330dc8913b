package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabledReturnsNoopTracer(t *testing.T) {
	m, err := New(Config{Enabled: false}, nil)
	require.NoError(t, err)
	assert.NotNil(t, m.Tracer())
}

func TestStartAndEndSpanDoesNotPanic(t *testing.T) {
	m, err := New(Config{Enabled: false}, nil)
	require.NoError(t, err)

	ctx, span := m.Start(context.Background(), "test.op")
	assert.NotNil(t, ctx)
	span.SetAttribute("key", "value")
	span.SetError(nil)
	span.End()
}

func TestShutdownWithoutProviderIsNoop(t *testing.T) {
	m, err := New(Config{Enabled: false}, nil)
	require.NoError(t, err)
	assert.NoError(t, m.Shutdown(context.Background()))
}
