package script

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"scriptor/internal/metrics"
	"scriptor/internal/watcher"
)

type fakeHandle struct {
	opener *fakeOpener
	id     uint64
	closed bool
}

func (handle *fakeHandle) Close() error {
	handle.opener.mu.Lock()
	defer handle.opener.mu.Unlock()
	handle.closed = true
	return nil
}

type fakeOpener struct {
	mu      sync.Mutex
	fail    error
	handles []*fakeHandle
	paths   map[uint64]string
	sinks   map[uint64]func(watcher.Notification)
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		paths: make(map[uint64]string),
		sinks: make(map[uint64]func(watcher.Notification)),
	}
}

func (opener *fakeOpener) Open(path string, id uint64, sink func(watcher.Notification)) (watcher.Handle, error) {
	opener.mu.Lock()
	defer opener.mu.Unlock()
	if opener.fail != nil {
		return nil, opener.fail
	}
	handle := &fakeHandle{opener: opener, id: id}
	opener.handles = append(opener.handles, handle)
	opener.paths[id] = path
	opener.sinks[id] = sink
	return handle, nil
}

// idFor returns the id of the most recent watch opened on path.
func (opener *fakeOpener) idFor(t *testing.T, path string) uint64 {
	t.Helper()
	opener.mu.Lock()
	defer opener.mu.Unlock()
	for index := len(opener.handles) - 1; index >= 0; index-- {
		handle := opener.handles[index]
		if opener.paths[handle.id] == path {
			return handle.id
		}
	}
	t.Fatalf("no watch opened for %s", path)
	return 0
}

// emit delivers a notification for id the way an adapter would, unless the
// handle was closed.
func (opener *fakeOpener) emit(id uint64, note watcher.Notification) {
	opener.mu.Lock()
	sink := opener.sinks[id]
	open := false
	for _, handle := range opener.handles {
		if handle.id == id && !handle.closed {
			open = true
		}
	}
	opener.mu.Unlock()
	if !open || sink == nil {
		return
	}
	note.WatchID = id
	sink(note)
}

func (opener *fakeOpener) openCount() int {
	opener.mu.Lock()
	defer opener.mu.Unlock()
	count := 0
	for _, handle := range opener.handles {
		if !handle.closed {
			count++
		}
	}
	return count
}

type countingEvaluator struct {
	mu      sync.Mutex
	calls   map[string]int
	produce func(ctx context.Context, ec *EvalContext) (Export, error)
}

func newCountingEvaluator(produce func(ctx context.Context, ec *EvalContext) (Export, error)) *countingEvaluator {
	if produce == nil {
		produce = func(context.Context, *EvalContext) (Export, error) {
			return sumExport(), nil
		}
	}
	return &countingEvaluator{calls: make(map[string]int), produce: produce}
}

func (evaluator *countingEvaluator) Evaluate(ctx context.Context, ec *EvalContext) (Export, error) {
	evaluator.mu.Lock()
	evaluator.calls[ec.Filename]++
	evaluator.mu.Unlock()
	return evaluator.produce(ctx, ec)
}

func (evaluator *countingEvaluator) count(path string) int {
	evaluator.mu.Lock()
	defer evaluator.mu.Unlock()
	return evaluator.calls[path]
}

func sumExport() Export {
	return Invocable(func(ctx context.Context, args ...any) (any, error) {
		total := 0
		for _, arg := range args {
			number, ok := arg.(int)
			if !ok {
				return nil, fmt.Errorf("argument %v is not an int", arg)
			}
			total += number
		}
		return total, nil
	})
}

func newTestRegistry(t *testing.T, evaluator Evaluator, opener *fakeOpener) *Registry {
	t.Helper()
	options := Options{
		Evaluator: evaluator,
		Metrics:   &metrics.Registry{},
		Imports:   map[string]any{"greeting": "hello"},
	}
	if opener != nil {
		options.Watch = opener
	}
	registry := NewRegistry(options)
	t.Cleanup(registry.Close)
	return registry
}

func scriptPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

var errBoom = errors.New("boom")
