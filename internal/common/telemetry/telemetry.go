// Package telemetry wires an OpenTelemetry tracer provider for the bridge's
// ask and subtask execution spans.
package telemetry

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns the process-wide tracer provider and its shutdown hook.
type Provider struct {
	tp       *sdktrace.TracerProvider
	tracer   trace.Tracer
	noop     bool
	shutdown func(context.Context) error
}

// New builds a tracer provider. When OTEL_EXPORTER_OTLP_ENDPOINT is unset,
// it returns a provider with no registered span processor, so spans are
// created but immediately discarded — no network calls are attempted.
func New(ctx context.Context, serviceName string) (*Provider, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, err
	}

	if endpoint == "" {
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
		otel.SetTracerProvider(tp)
		return &Provider{tp: tp, tracer: tp.Tracer(serviceName), noop: true, shutdown: tp.Shutdown}, nil
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(2*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp, tracer: tp.Tracer(serviceName), shutdown: tp.Shutdown}, nil
}

// Tracer returns the tracer to start spans with.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes and releases the exporter, if any.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}
