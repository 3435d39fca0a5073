// Package tracing wires OpenTelemetry into the edge. Spans are exported over
// OTLP/gRPC when enabled; W3C trace context is propagated to backends either way.
package tracing

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signagehub/edge/internal/config"
)

const instrumentationName = "github.com/signagehub/edge"

// Tracer provides distributed tracing via OpenTelemetry
type Tracer struct {
	enabled    bool
	cfg        config.TracingConfig
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// W3C trace context plus baggage, so tenant hints set by the browser app
// survive the hop to backends.
var propagator = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})

// New creates a Tracer from config. The propagator is installed globally even
// when tracing is off; InjectHeaders relies on it.
func New(cfg config.TracingConfig) (*Tracer, error) {
	otel.SetTextMapPropagator(propagator)
	if !cfg.Enabled {
		return &Tracer{
			cfg:        cfg,
			tracer:     noop.NewTracerProvider().Tracer(instrumentationName),
			propagator: propagator,
		}, nil
	}

	exporter, err := otlptracegrpc.New(context.Background(), exporterOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	t, err := newTracer(cfg, sdktrace.NewBatchSpanProcessor(exporter))
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(t.provider)
	return t, nil
}

func exporterOptions(cfg config.TracingConfig) []otlptracegrpc.Option {
	var opts []otlptracegrpc.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return opts
}

// sampler keeps the caller's decision when a sampled parent is present and
// samples root spans at rate. A rate of zero or less means every span.
func sampler(rate float64) sdktrace.Sampler {
	if rate <= 0 || rate >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

func newTracer(cfg config.TracingConfig, processor sdktrace.SpanProcessor) (*Tracer, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "signage-edge"
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)),
		resource.WithHost(),
		resource.WithProcessPID(),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	return &Tracer{
		enabled:    true,
		cfg:        cfg,
		provider:   provider,
		tracer:     provider.Tracer(instrumentationName),
		propagator: propagator,
	}, nil
}

// IsEnabled returns whether spans are recorded
func (t *Tracer) IsEnabled() bool {
	return t.enabled
}

// StartSpan creates a child span in ctx. With tracing disabled the span is a
// no-op but the parent context is preserved.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// InjectHeaders writes the trace context of src into the outgoing request.
// traceparent and tracestate are copied directly when the context carries
// no span, so a caller's trace is never cut at the edge.
func InjectHeaders(src, dst *http.Request) {
	otel.GetTextMapPropagator().Inject(src.Context(), propagation.HeaderCarrier(dst.Header))

	if dst.Header.Get("traceparent") == "" {
		if tp := src.Header.Get("traceparent"); tp != "" {
			dst.Header.Set("traceparent", tp)
		}
	}
	if dst.Header.Get("tracestate") == "" {
		if ts := src.Header.Get("tracestate"); ts != "" {
			dst.Header.Set("tracestate", ts)
		}
	}
}

// Close flushes pending spans and shuts the provider down.
func (t *Tracer) Close(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// Status describes the exporter for the admin API. Headers are left out;
// they usually carry credentials.
func (t *Tracer) Status() map[string]any {
	status := map[string]any{"enabled": t.enabled}
	if t.enabled {
		status["service_name"] = t.cfg.ServiceName
		status["endpoint"] = t.cfg.Endpoint
		status["sample_rate"] = t.cfg.SampleRate
	}
	return status
}
