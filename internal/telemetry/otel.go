// Package telemetry configures OpenTelemetry tracing for the service and
// its outbound provider calls.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ieraasyl/ConnectService/pkg/config"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

// Init installs an OTLP/HTTP tracer provider when cfg.Endpoint is set.
// Without an endpoint spans go to the global no-op provider. The W3C trace
// context propagator is installed either way.
func Init(ctx context.Context, cfg config.TelemetryConfig) (Shutdown, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Endpoint == "" {
		log.Debug().Msg("Trace export disabled")
		return func(context.Context) error { return nil }, nil
	}

	opts, err := exporterOptions(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)

	log.Info().Str("endpoint", cfg.Endpoint).Str("service", cfg.ServiceName).Msg("Trace export enabled")
	return tp.Shutdown, nil
}

// exporterOptions accepts host:port or a full http(s) URL with optional path.
func exporterOptions(endpoint string) ([]otlptracehttp.Option, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" {
		return []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		}, nil
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid OTLP endpoint: %s", endpoint)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(parsed.Host)}
	if parsed.Path != "" && parsed.Path != "/" {
		opts = append(opts, otlptracehttp.WithURLPath(parsed.Path))
	}
	if parsed.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts, nil
}

// Middleware traces inbound requests.
func Middleware(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, operation)
	}
}

// HTTPClient returns the client for provider calls: bounded by timeout and
// traced so token exchanges show up as child spans of the callback.
func HTTPClient(timeout time.Duration, opts ...otelhttp.Option) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
	}
}
