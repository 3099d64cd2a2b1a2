// ABOUTME: OpenTelemetry wiring: Prometheus-backed meter provider and optional OTLP tracing
// ABOUTME: Owns provider lifecycles so main can flush and stop them on shutdown

package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Options configures Setup.
type Options struct {
	ServiceName    string
	ServiceVersion string

	// TracingEndpoint is an OTLP/gRPC collector address. Empty disables tracing.
	TracingEndpoint string
	TracingInsecure bool
}

// Provider bundles the meter, tracer and the registry backing /metrics.
type Provider struct {
	Meter   metric.Meter
	Tracer  trace.Tracer
	Metrics *Metrics

	registry *prometheus.Registry
	shutdown []func(context.Context) error
}

// Setup builds the meter provider (always) and the tracer provider (when an endpoint is set).
// Each Provider has its own Prometheus registry.
func Setup(ctx context.Context, opts Options) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	promExporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter(opts.ServiceName)

	p := &Provider{
		Meter:    meter,
		Tracer:   noop.NewTracerProvider().Tracer(opts.ServiceName),
		registry: registry,
		shutdown: []func(context.Context) error{meterProvider.Shutdown},
	}

	if opts.TracingEndpoint != "" {
		exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.TracingEndpoint)}
		if opts.TracingInsecure {
			exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
		}
		traceExporter, err := otlptracegrpc.New(ctx, exporterOpts...)
		if err != nil {
			_ = meterProvider.Shutdown(ctx)
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}

		tracerProvider := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))

		p.Tracer = tracerProvider.Tracer(opts.ServiceName)
		p.shutdown = append(p.shutdown, tracerProvider.Shutdown)
	}

	p.Metrics, err = NewMetrics(meter)
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, fmt.Errorf("creating metrics: %w", err)
	}

	return p, nil
}

// MetricsHandler serves this provider's registry in the Prometheus text format.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops every provider, returning all errors joined.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		if err := p.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
