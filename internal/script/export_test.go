package script

import (
	"context"
	"testing"
)

func TestValueExportIsNotInvocable(t *testing.T) {
	export := Value(42)
	if export.IsInvocable() {
		t.Fatal("expected value export not to be invocable")
	}
	result, err := export.Call(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("call value: %v", err)
	}
	if result != 42 {
		t.Fatalf("expected 42, got %v", result)
	}
}

func TestInvocableExportCallsFunction(t *testing.T) {
	export := sumExport()
	if !export.IsInvocable() {
		t.Fatal("expected invocable export")
	}
	if export.Value() != nil {
		t.Fatalf("expected nil value, got %v", export.Value())
	}
	result, err := export.Call(context.Background(), 4, 5)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != 9 {
		t.Fatalf("expected 9, got %v", result)
	}
}

func TestNilInvocableActsAsNilValue(t *testing.T) {
	export := Invocable(nil)
	if export.IsInvocable() {
		t.Fatal("expected nil func not to be invocable")
	}
}
