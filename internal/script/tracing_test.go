package script

import (
	"context"
	"testing"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otelapi.GetTracerProvider()
	otelapi.SetTracerProvider(provider)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		otelapi.SetTracerProvider(previous)
	})
	return recorder
}

func endedSpan(recorder *tracetest.SpanRecorder, name string) sdktrace.ReadOnlySpan {
	for _, span := range recorder.Ended() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

func spanAttribute(span sdktrace.ReadOnlySpan, key string) string {
	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			return attr.Value.Emit()
		}
	}
	return ""
}

func TestRunScriptRecordsSpans(t *testing.T) {
	recorder := installRecorder(t)
	evaluator := EvaluatorFunc(func(ctx context.Context, ec *EvalContext) (Export, error) {
		return sumExport(), nil
	})
	registry := newTestRegistry(t, evaluator, nil)
	path := scriptPath(t, "sum.js")

	if _, err := registry.RunScript(context.Background(), path, 1, 2); err != nil {
		t.Fatalf("run: %v", err)
	}

	evaluate := endedSpan(recorder, evaluateSpanName)
	if evaluate == nil {
		t.Fatalf("expected evaluate span")
	}
	if got := spanAttribute(evaluate, "script.path"); got != path {
		t.Fatalf("expected script.path %s, got %q", path, got)
	}
	if got := spanAttribute(evaluate, "script.id"); got != "sum.js" {
		t.Fatalf("expected script.id sum.js, got %q", got)
	}
	invoke := endedSpan(recorder, invokeSpanName)
	if invoke == nil {
		t.Fatalf("expected invoke span")
	}
	if got := spanAttribute(invoke, "script.args"); got != "2" {
		t.Fatalf("expected script.args 2, got %q", got)
	}
}

func TestEvaluationFailureMarksSpan(t *testing.T) {
	recorder := installRecorder(t)
	evaluator := EvaluatorFunc(func(ctx context.Context, ec *EvalContext) (Export, error) {
		return Export{}, errBoom
	})
	registry := newTestRegistry(t, evaluator, nil)

	if _, err := registry.RunScript(context.Background(), scriptPath(t, "bad.js")); err == nil {
		t.Fatalf("expected evaluation error")
	}
	span := endedSpan(recorder, evaluateSpanName)
	if span == nil {
		t.Fatalf("expected evaluate span")
	}
	if span.Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", span.Status().Code)
	}
}
