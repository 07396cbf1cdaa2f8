package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// tracerName scopes spans started through Tracer to this module.
const tracerName = "github.com/ticketcore/scancore"

// TracingCloser shuts the tracer provider down, flushing buffered spans.
// It is registered with the shutdown manager's observe phase so final
// spans referencing outbound calls are captured before datastores close.
type TracingCloser struct {
	tp *sdktrace.TracerProvider
}

// Close flushes and stops the provider.
func (c *TracingCloser) Close() error {
	return c.tp.Shutdown(context.Background())
}

// InitTracing installs a global OTLP-HTTP-exporting tracer provider. When
// endpoint is empty, tracing stays on the default no-op provider and a
// nil closer is returned; callers skip registration in that case.
func InitTracing(ctx context.Context, endpoint, serviceName, serviceVersion string) (*TracingCloser, error) {
	if endpoint == "" {
		return nil, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("create OTLP trace exporter: %w", err)
	}

	res, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingCloser{tp: tp}, nil
}

// Tracer returns this module's tracer from the globally installed
// provider (no-op until InitTracing has run with an endpoint).
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
