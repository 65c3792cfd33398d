package script

import (
	"context"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "scriptor/script"
	evaluateSpanName = "script.evaluate"
	invokeSpanName   = "script.invoke"
)

// startScriptSpan uses the global tracer provider, a no-op unless the host
// installs one.
func startScriptSpan(ctx context.Context, name, filename string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	base := []attribute.KeyValue{attribute.String("script.path", filename)}
	return otelapi.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(append(base, attrs...)...),
	)
}

func endScriptSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
