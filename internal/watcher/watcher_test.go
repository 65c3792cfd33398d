package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherDispatchesWriteEvent(t *testing.T) {
	watcher, err := New()
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	path := writeTempScript(t, t.TempDir(), "write.hcl")

	events := make(chan Event, 1)
	handle, err := watcher.Watch(path, func(event Event) {
		select {
		case events <- event:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watch path: %v", err)
	}
	defer handle.Close()

	if err := os.WriteFile(path, []byte("update"), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	event, ok := waitForEvent(events)
	if !ok {
		t.Fatal("timed out waiting for write event")
	}
	if event.Path != path {
		t.Fatalf("expected path %q, got %q", path, event.Path)
	}
}

func TestWatcherDispatchesRemoveEvent(t *testing.T) {
	watcher, err := New()
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	path := writeTempScript(t, t.TempDir(), "remove.hcl")

	events := make(chan Event, 1)
	handle, err := watcher.Watch(path, func(event Event) {
		select {
		case events <- event:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watch path: %v", err)
	}
	defer handle.Close()

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove file: %v", err)
	}

	event, ok := waitForEvent(events)
	if !ok {
		t.Fatal("timed out waiting for remove event")
	}
	if event.Path != path {
		t.Fatalf("expected path %q, got %q", path, event.Path)
	}
}

func TestWatcherDirectoryReceivesChildEvents(t *testing.T) {
	watcher, err := New()
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	dir := t.TempDir()
	events := make(chan Event, 4)
	handle, err := watcher.Watch(dir, func(event Event) {
		select {
		case events <- event:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watch dir: %v", err)
	}
	defer handle.Close()

	child := filepath.Join(dir, "child.hcl")
	if err := os.WriteFile(child, []byte("export = 1"), 0600); err != nil {
		t.Fatalf("write child: %v", err)
	}

	event, ok := waitForEvent(events)
	if !ok {
		t.Fatal("timed out waiting for child event")
	}
	if event.Path != child {
		t.Fatalf("expected path %q, got %q", child, event.Path)
	}
}

func TestWatcherSharesRegistrationPerPath(t *testing.T) {
	watcher, err := New()
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	dir := t.TempDir()
	first, err := watcher.Watch(dir, func(Event) {})
	if err != nil {
		t.Fatalf("watch dir: %v", err)
	}
	second, err := watcher.Watch(dir, func(Event) {})
	if err != nil {
		t.Fatalf("watch dir again: %v", err)
	}
	if got := watcher.Metrics().ActiveWatches; got != 1 {
		t.Fatalf("expected 1 active watch, got %d", got)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("close first: %v", err)
	}
	if got := watcher.Metrics().ActiveWatches; got != 1 {
		t.Fatalf("expected 1 active watch after first close, got %d", got)
	}
	if err := second.Close(); err != nil {
		t.Fatalf("close second: %v", err)
	}
	if got := watcher.Metrics().ActiveWatches; got != 0 {
		t.Fatalf("expected 0 active watches, got %d", got)
	}
	if err := second.Close(); err != nil {
		t.Fatalf("expected repeated close to succeed, got %v", err)
	}
}

func TestWatcherEnforcesMaxWatches(t *testing.T) {
	watcher, err := NewWithOptions(Options{MaxWatches: 1})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	handle, err := watcher.Watch(t.TempDir(), func(Event) {})
	if err != nil {
		t.Fatalf("watch first dir: %v", err)
	}
	defer handle.Close()

	if _, err := watcher.Watch(t.TempDir(), func(Event) {}); !errors.Is(err, ErrMaxWatchesExceeded) {
		t.Fatalf("expected ErrMaxWatchesExceeded, got %v", err)
	}
}

func TestWatcherRejectsWatchAfterClose(t *testing.T) {
	watcher, err := New()
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := watcher.Close(); err != nil {
		t.Fatalf("close watcher: %v", err)
	}
	if _, err := watcher.Watch(t.TempDir(), func(Event) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := watcher.Close(); err != nil {
		t.Fatalf("expected repeated close to succeed, got %v", err)
	}
}

func TestWatcherMissingPathFails(t *testing.T) {
	watcher, err := New()
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	missing := filepath.Join(t.TempDir(), "missing.hcl")
	if _, err := watcher.Watch(missing, func(Event) {}); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func writeTempScript(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("export = 1\n"), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func waitForEvent(events <-chan Event) (Event, bool) {
	select {
	case event := <-events:
		return event, true
	case <-time.After(2 * time.Second):
		return Event{}, false
	}
}
