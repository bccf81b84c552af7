// Package observe provides OpenTelemetry tracing and metrics for the
// release pipeline: spans per phase, counters for builds, packages and
// publishes.
package observe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // e.g. "localhost:4317"
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns defaults suitable for CI runs; telemetry is
// off unless explicitly enabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "streamer-release",
		ServiceVersion: "0.0.0",
		OTLPEndpoint:   "localhost:4317",
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
		Insecure:       false,
	}
}

// Provider manages the trace and metric providers plus the pipeline
// counters.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	logger         *slog.Logger

	buildCounter   metric.Int64Counter
	packageCounter metric.Int64Counter
	publishCounter metric.Int64Counter
	failureCounter metric.Int64Counter
}

// New creates an observability provider. With Enabled false it is a
// cheap no-op whose methods are still safe to call.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observe"),
	}

	if !config.Enabled {
		p.tracer = nooptrace.NewTracerProvider().Tracer("streamer-release")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("streamer-release",
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	if err := p.initCounters(); err != nil {
		return nil, fmt.Errorf("failed to init counters: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initCounters() error {
	meter := otel.Meter("streamer-release")
	var err error

	p.buildCounter, err = meter.Int64Counter("release.builds.total",
		metric.WithDescription("Toolchain invocations by outcome"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		return err
	}
	p.packageCounter, err = meter.Int64Counter("release.packages.total",
		metric.WithDescription("Assembled packages by outcome"),
		metric.WithUnit("{package}"),
	)
	if err != nil {
		return err
	}
	p.publishCounter, err = meter.Int64Counter("release.publishes.total",
		metric.WithDescription("Published packages"),
		metric.WithUnit("{package}"),
	)
	if err != nil {
		return err
	}
	p.failureCounter, err = meter.Int64Counter("release.failures.total",
		metric.WithDescription("Per-platform failures by phase"),
		metric.WithUnit("{failure}"),
	)
	return err
}

// StartPhase opens a span for one pipeline phase.
func (p *Provider) StartPhase(ctx context.Context, phase string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "release."+phase)
}

// CountBuild records one toolchain invocation outcome.
func (p *Provider) CountBuild(ctx context.Context, platformTag string, succeeded bool) {
	if p.buildCounter == nil {
		return
	}
	p.buildCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("platform", platformTag),
			attribute.Bool("succeeded", succeeded),
		))
}

// CountPackage records one assembly outcome.
func (p *Provider) CountPackage(ctx context.Context, platformTag string, validated bool) {
	if p.packageCounter == nil {
		return
	}
	p.packageCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("platform", platformTag),
			attribute.Bool("validated", validated),
		))
}

// CountPublish records published packages.
func (p *Provider) CountPublish(ctx context.Context, n int) {
	if p.publishCounter == nil {
		return
	}
	p.publishCounter.Add(ctx, int64(n))
}

// CountFailure records a per-platform failure in a phase.
func (p *Provider) CountFailure(ctx context.Context, platformTag, phase string) {
	if p.failureCounter == nil {
		return
	}
	p.failureCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("platform", platformTag),
			attribute.String("phase", phase),
		))
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}
