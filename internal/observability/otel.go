// Package observability wires OpenTelemetry tracing for the API and worker
// binaries. Both export over OTLP/gRPC under one service name; the
// app.component resource attribute tells them apart so a generation can be
// followed from the HTTP request into the job that completes it.
package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/tbourn/go-content-backend/internal/config"
)

// Component names used as the app.component resource attribute.
const (
	ComponentAPI    = "api"
	ComponentWorker = "worker"
)

// Shutdown flushes pending spans and stops the provider.
type Shutdown func(context.Context) error

// Overridable in tests.
var (
	newOTLPClient = otlptracegrpc.NewClient

	newExporter = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return otlptrace.New(ctx, client)
	}

	newResource = func(ctx context.Context, attrs ...attribute.KeyValue) (*resource.Resource, error) {
		return resource.New(ctx,
			resource.WithAttributes(attrs...),
			resource.WithHost(),
			resource.WithTelemetrySDK(),
		)
	}
)

// SetupOTel installs a batching tracer provider and the W3C trace-context
// and baggage propagators. With tracing disabled it changes no globals and
// returns a no-op Shutdown. Globals are only replaced once every part was
// built.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, component, version string) (Shutdown, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}

	exp, err := newExporter(ctx, newOTLPClient(opts...))
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, resourceAttrs(cfg.ServiceName, component, version)...)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func resourceAttrs(service, component, version string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(service)}
	if v := strings.TrimSpace(version); v != "" {
		attrs = append(attrs, semconv.ServiceVersion(v))
	}
	if c := strings.TrimSpace(component); c != "" {
		attrs = append(attrs, attribute.String("app.component", c))
	}
	return attrs
}

// sampler honours the parent's decision and samples roots by ratio.
// Out-of-range ratios are clamped to [0, 1].
func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}
