package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TRACER_NAME is the instrumentation name of spans
const TRACER_NAME = "github.com/zefrenchwan/registries"

var tracer trace.Tracer

// SetTracer sets the tracer to be used for tracing.
// Without it, the global otel provider is used, a no-op unless installed.
func SetTracer(t trace.Tracer) {
	tracer = t
}

func current() trace.Tracer {
	if tracer == nil {
		return otel.Tracer(TRACER_NAME)
	}

	return tracer
}

// StartSpan starts a new span with the given name and returns the context and span.
func StartSpan(ctx context.Context, spanName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return current().Start(ctx, spanName, trace.WithAttributes(attributes...))
}

// EndWithError records err, if any, and ends the span
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

// GetTraceID returns the trace ID from the context, empty without a valid span
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}

	return span.SpanContext().TraceID().String()
}

// InjectHeaders returns the trace context headers of ctx, to propagate it in messages
func InjectHeaders(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return carrier
}
