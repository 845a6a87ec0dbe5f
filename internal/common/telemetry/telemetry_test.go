package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutEndpointIsANoopProvider(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	p, err := New(context.Background(), "acp-bridge-test")
	require.NoError(t, err)
	assert.True(t, p.noop)
	assert.NotNil(t, p.Tracer())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestTracerCanStartAndEndASpan(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	p, err := New(context.Background(), "acp-bridge-test")
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "test.span")
	span.End()
}

func TestShutdownOnNilProviderIsANoop(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}
