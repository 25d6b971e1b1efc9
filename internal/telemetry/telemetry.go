// Package telemetry wires OpenTelemetry tracing (Google Cloud Trace) and
// bridges OpenTelemetry metrics into the Prometheus registry.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/config"
)

// InstrumentationName scopes tracers created by this service.
const InstrumentationName = "github.com/Athena-vivi/LMSY.space-sub002"

// Providers holds the installed providers so they can be flushed on shutdown.
type Providers struct {
	Trace *sdktrace.TracerProvider
	Meter *metric.MeterProvider

	shutdownOnce sync.Once
	shutdownErr  error
}

var (
	initOnce sync.Once
	provs    *Providers
	initErr  error
)

// InitTelemetry installs global tracer and meter providers once per process.
// Spans are exported to Google Cloud Trace only when telemetry is enabled and
// a project ID is configured; otherwise they are sampled but dropped.
func InitTelemetry(ctx context.Context, cfg *config.Config) (*Providers, error) {
	initOnce.Do(func() {
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(cfg.Application.ServiceName),
				semconv.ServiceVersion(cfg.Application.Version),
				semconv.CloudAccountID(cfg.Application.ProjectNumber),
				semconv.CloudRegion(cfg.Application.Region),
			),
		)
		if err != nil {
			initErr = fmt.Errorf("create resource: %w", err)
			return
		}

		ratio := cfg.Telemetry.SampleRatio
		if ratio <= 0 {
			ratio = 1
		}
		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		}
		if cfg.Telemetry.Enabled && cfg.Application.ProjectID != "" {
			exporter, err := texporter.New(texporter.WithProjectID(cfg.Application.ProjectID))
			if err != nil {
				initErr = fmt.Errorf("create google trace exporter: %w", err)
				return
			}
			opts = append(opts, sdktrace.WithBatcher(exporter))
		}
		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		)

		promExporter, err := otelprom.New(otelprom.WithRegisterer(prometheus.DefaultRegisterer))
		if err != nil {
			initErr = fmt.Errorf("create prometheus exporter: %w", err)
			return
		}
		mp := metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(promExporter))
		otel.SetMeterProvider(mp)

		provs = &Providers{Trace: tp, Meter: mp}
	})
	return provs, initErr
}

// Shutdown flushes and stops both providers. Later calls return the first result.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.shutdownOnce.Do(func() {
		if p.Trace != nil {
			p.shutdownErr = multierr.Append(p.shutdownErr, p.Trace.Shutdown(ctx))
		}
		if p.Meter != nil {
			p.shutdownErr = multierr.Append(p.shutdownErr, p.Meter.Shutdown(ctx))
		}
	})
	return p.shutdownErr
}

// Tracer returns a tracer from the global provider.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(InstrumentationName + "/" + component)
}
