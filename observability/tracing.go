package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName is the tracer name used by all engine components.
const InstrumentationName = "github.com/hupe1980/agentstream"

// TraceConfig configures the tracer provider.
type TraceConfig struct {
	// Exporter receives finished spans. If nil, tracing is disabled and a
	// no-op provider is returned.
	Exporter sdktrace.SpanExporter

	// SamplingRate controls what fraction of traces are recorded (0.0 to 1.0).
	// Defaults to 1.0.
	SamplingRate float64

	// Synchronous exports each span as it ends instead of batching. Intended
	// for tests and the CLI.
	Synchronous bool
}

// NewTracerProvider creates a tracer provider and its shutdown function.
func NewTracerProvider(cfg TraceConfig) (trace.TracerProvider, func(context.Context) error) {
	if cfg.Exporter == nil {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }
	}
	if cfg.SamplingRate == 0 {
		cfg.SamplingRate = 1.0
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SamplingRate < 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	export := sdktrace.WithBatcher(cfg.Exporter)
	if cfg.Synchronous {
		export = sdktrace.WithSyncer(cfg.Exporter)
	}

	provider := sdktrace.NewTracerProvider(export, sdktrace.WithSampler(sampler))
	return provider, provider.Shutdown
}

// NewOTLPExporter creates a gRPC OTLP span exporter for endpoint
// (host:port).
func NewOTLPExporter(ctx context.Context, endpoint string, insecure bool) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
	}
	if insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
	}
	return exporter, nil
}

// Tracer returns the engine tracer of tp, or a no-op tracer when tp is nil.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return tp.Tracer(InstrumentationName)
}

// RecordError records err on span and marks the span as failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ConversationAttributes returns the span attributes identifying a turn.
func ConversationAttributes(conversationID, userID, turnID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("conversation.id", conversationID),
		attribute.String("conversation.user_id", userID),
		attribute.String("turn.id", turnID),
	}
}
