package script

import "context"

// Func is the call contract of an invocable export.
type Func func(ctx context.Context, args ...any) (any, error)

// Export is the result of evaluating a script: either an invocable or a
// plain value.
type Export struct {
	fn    Func
	value any
}

// Value wraps a non-invocable export.
func Value(value any) Export {
	return Export{value: value}
}

// Invocable wraps a callable export. A nil fn yields a nil value export.
func Invocable(fn Func) Export {
	return Export{fn: fn}
}

func (export Export) IsInvocable() bool {
	return export.fn != nil
}

// Value returns the wrapped value; it is nil for invocables.
func (export Export) Value() any {
	return export.value
}

// Call invokes an invocable export, or returns the value unchanged.
func (export Export) Call(ctx context.Context, args ...any) (any, error) {
	if export.fn == nil {
		return export.value, nil
	}
	return export.fn(ctx, args...)
}
