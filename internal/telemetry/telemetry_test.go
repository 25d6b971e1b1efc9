package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/config"
)

func TestInitTelemetryIsIdempotent(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Application: config.ApplicationConfig{ServiceName: "lmsy-ingest-test"}}
	first, err := InitTelemetry(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, first)
	second, err := InitTelemetry(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, span := Tracer("test").Start(context.Background(), "probe")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestNilProvidersShutdown(t *testing.T) {
	t.Parallel()

	var p *Providers
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	p := &Providers{Trace: sdktrace.NewTracerProvider(), Meter: metric.NewMeterProvider()}
	require.NoError(t, p.Shutdown(context.Background()))
	require.NoError(t, p.Shutdown(context.Background()))
}
