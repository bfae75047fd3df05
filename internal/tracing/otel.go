// Package tracing provides distributed tracing support using OpenTelemetry.
package tracing

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool
}

// Global tracer
var globalTracer trace.Tracer

// InitOTel initializes OpenTelemetry with the given configuration.
// Returns a shutdown function that should be called on application exit.
func InitOTel(cfg OTelConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		// Return no-op shutdown
		return func(context.Context) error { return nil }, nil
	}

	// Create stdout exporter for now (can be replaced with OTLP exporter)
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stderr),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	globalTracer = tp.Tracer(cfg.ServiceName)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

// GetTracer returns the global tracer
func GetTracer() trace.Tracer {
	if globalTracer == nil {
		// Return no-op tracer if not initialized
		return otel.Tracer("noop")
	}
	return globalTracer
}

// InvestigationSpan starts the root span for one investigation.
func InvestigationSpan(ctx context.Context, id, trigger string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "rca.investigation",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rca.investigation.id", id),
			attribute.String("rca.trigger", trigger),
		),
	)
}

// StageSpan starts a span for one workflow stage.
func StageSpan(ctx context.Context, stage string, iteration int) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "rca.stage."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("rca.stage", stage),
			attribute.Int("rca.iteration", iteration),
		),
	)
}

// LLMSpan starts a span for one completion call.
func LLMSpan(ctx context.Context, purpose string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "rca.llm."+purpose,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rca.llm.purpose", purpose),
		),
	)
}

// ToolSpan starts a span for one MCP tool call.
func ToolSpan(ctx context.Context, server, tool string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "rca.tool."+tool,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rca.mcp.server", server),
			attribute.String("rca.tool.name", tool),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("error", true))
	}
}
