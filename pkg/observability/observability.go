// Package observability wires OpenTelemetry tracing and metrics for the
// validator core: a span per tool invocation and per claim evaluation,
// plus Rate/Error/Duration counters for both (spec SUPPLEMENTED FEATURES;
// DOMAIN STACK).
//
// Grounded on github.com/Mindburn-Labs/helm/core/pkg/observability
// (observability.go): the Provider shape, RED metric set, and the
// TrackOperation start/finish closure are kept close to the teacher's
// design. The teacher's provider also configures OTLP gRPC exporters
// (otlptracegrpc, otlpmetricgrpc) and an mTLS credential path; this
// validator only ever runs the in-process SDK providers with no
// exporter wired, so that half of the teacher's init is dropped rather
// than adapted — there is no remote collector in scope for this
// service, and shipping spans nowhere would just be dead configuration.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the in-process OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool
}

func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "caster-validator-core",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		Enabled:        true,
	}
}

// Provider holds the validator's tracer/meter and its RED metric
// instruments. There is no span/metric exporter: providers run
// in-process only, so Shutdown just releases resources, it never
// flushes to a collector.
type Provider struct {
	config *Config
	logger *slog.Logger

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	requestCounter metric.Int64Counter
	errorCounter   metric.Int64Counter
	durationHist   metric.Float64Histogram
	activeOps      metric.Int64UpDownCounter
}

// New builds a Provider. A nil config is replaced by DefaultConfig(). A
// disabled config returns a Provider whose instruments are all nil; every
// record/track method on such a Provider is then a safe no-op.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{config: config, logger: slog.Default().With("component", "observability")}
	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building observability resource: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(p.tracerProvider)

	p.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(p.meterProvider)

	p.tracer = otel.Tracer("caster.validator-core", trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter("caster.validator-core", metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initREDMetrics(); err != nil {
		return nil, fmt.Errorf("initializing RED metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized", "service", config.ServiceName, "environment", config.Environment)
	return p, nil
}

func (p *Provider) initREDMetrics() error {
	var err error
	p.requestCounter, err = p.meter.Int64Counter("validator.operations.total",
		metric.WithDescription("Total number of tool invocations and claim evaluations processed"),
		metric.WithUnit("{operation}"))
	if err != nil {
		return err
	}
	p.errorCounter, err = p.meter.Int64Counter("validator.operations.errors",
		metric.WithDescription("Total number of failed tool invocations and claim evaluations"),
		metric.WithUnit("{error}"))
	if err != nil {
		return err
	}
	p.durationHist, err = p.meter.Float64Histogram("validator.operation.duration",
		metric.WithDescription("Operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	if err != nil {
		return err
	}
	p.activeOps, err = p.meter.Int64UpDownCounter("validator.operations.active",
		metric.WithDescription("Number of in-flight tool invocations and claim evaluations"),
		metric.WithUnit("{operation}"))
	return err
}

// Shutdown releases the tracer/meter providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "shutting down trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "shutting down meter provider", "error", err)
		}
	}
	return nil
}

func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("caster.validator-core")
	}
	return p.tracer
}

func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter("caster.validator-core")
	}
	return p.meter
}

// TrackOperation starts a span and the RED counters for name, returning a
// closure to call on completion with the operation's error (nil on
// success). Used once per tool invocation (spec §4.9) and once per
// claim evaluation (spec §4.10).
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.Tracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))

	if p.activeOps != nil {
		p.activeOps.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if p.requestCounter != nil {
		p.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	return ctx, func(err error) {
		duration := time.Since(start)
		if p.activeOps != nil {
			p.activeOps.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		if p.durationHist != nil {
			p.durationHist.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
		}
		if err != nil {
			span.RecordError(err)
			if p.errorCounter != nil {
				p.errorCounter.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("error.type", fmt.Sprintf("%T", err)))...))
			}
		}
		span.End()
	}
}
