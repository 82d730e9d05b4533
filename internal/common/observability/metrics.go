package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Options configures the OpenTelemetry providers.
type Options struct {
	ServiceName  string
	Version      string
	OTLPEndpoint string  // empty disables span export
	SampleRatio  float64 // 0 < ratio <= 1
}

type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          otelmetric.Meter
	tracer         trace.Tracer
	promptCounter  otelmetric.Int64Counter
	promptDuration otelmetric.Float64Histogram
}

// New installs global meter and tracer providers. A failing exporter is
// reported but never fatal; the returned value is always usable.
func New(ctx context.Context, opts Options) (*Observability, error) {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceVersion(opts.Version),
	)

	obs := &Observability{}
	var firstErr error

	exporter, err := prometheus.New()
	if err != nil {
		firstErr = fmt.Errorf("prometheus exporter: %w", err)
	} else {
		obs.meterProvider = metric.NewMeterProvider(metric.WithReader(exporter), metric.WithResource(res))
		otel.SetMeterProvider(obs.meterProvider)
	}

	ratio := opts.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}
	if opts.OTLPEndpoint != "" {
		spanExporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(opts.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("otlp exporter: %w", err)
		} else if err == nil {
			tpOpts = append(tpOpts, sdktrace.WithBatcher(spanExporter))
		}
	}
	obs.tracerProvider = sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(obs.tracerProvider)

	obs.init(opts.ServiceName)
	return obs, firstErr
}

// NewNoop returns an instance backed by the global no-op providers (tests).
func NewNoop(serviceName string) *Observability {
	obs := &Observability{}
	obs.init(serviceName)
	return obs
}

func (o *Observability) init(serviceName string) {
	if o.meterProvider != nil {
		o.meter = o.meterProvider.Meter(serviceName)
	} else {
		o.meter = otel.GetMeterProvider().Meter(serviceName)
	}
	if o.tracerProvider != nil {
		o.tracer = o.tracerProvider.Tracer(serviceName)
	} else {
		o.tracer = otel.GetTracerProvider().Tracer(serviceName)
	}

	o.promptCounter, _ = o.meter.Int64Counter(
		"prompts.processed",
		otelmetric.WithDescription("Number of prompts processed"),
	)
	o.promptDuration, _ = o.meter.Float64Histogram(
		"prompts.duration",
		otelmetric.WithDescription("Prompt processing duration"),
		otelmetric.WithUnit("ms"),
	)
}

// StartSpan opens a span named name under ctx.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (o *Observability) RecordPromptProcessed(ctx context.Context, assistant, outcome string) {
	if o.promptCounter != nil {
		o.promptCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("assistant", assistant),
			attribute.String("outcome", outcome),
		))
	}
}

func (o *Observability) RecordPromptDuration(ctx context.Context, assistant string, duration time.Duration) {
	if o.promptDuration != nil {
		o.promptDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("assistant", assistant),
		))
	}
}

func (o *Observability) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if o.tracerProvider != nil {
		_ = o.tracerProvider.Shutdown(ctx)
	}
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
}
