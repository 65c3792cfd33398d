package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scriptor/internal/metrics"
	"scriptor/internal/watcher"
)

func TestAddRunChangeRunScenario(t *testing.T) {
	evaluator := newCountingEvaluator(nil)
	opener := newFakeOpener()
	registry := newTestRegistry(t, evaluator, opener)
	path := scriptPath(t, "a.js")

	if err := registry.AddScript(path, true); err != nil {
		t.Fatalf("add: %v", err)
	}
	if registry.IsLoaded(path) {
		t.Fatal("expected a.js to start unloaded")
	}

	result, err := registry.RunScript(context.Background(), path, 1, 2)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if result != 3 || evaluator.count(path) != 1 {
		t.Fatalf("expected 3 after 1 evaluation, got %v after %d", result, evaluator.count(path))
	}

	opener.emit(opener.idFor(t, path), watcher.Notification{Kind: watcher.Changed, Path: path})
	if registry.IsLoaded(path) {
		t.Fatal("expected a.js to be unloaded after change")
	}

	result, err = registry.RunScript(context.Background(), path, 4, 5)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result != 9 || evaluator.count(path) != 2 {
		t.Fatalf("expected 9 after 2 evaluations, got %v after %d", result, evaluator.count(path))
	}
}

func TestRegistryFollowsFilesystemWatcher(t *testing.T) {
	fsWatcher, err := watcher.NewWithOptions(watcher.Options{Debounce: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer fsWatcher.Close()

	evaluator := newCountingEvaluator(nil)
	registry := NewRegistry(Options{
		Evaluator: evaluator,
		Watch:     watcher.NewAdapter(fsWatcher, nil),
		Metrics:   &metrics.Registry{},
	})
	defer registry.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.hcl")
	renamed := filepath.Join(dir, "b.hcl")
	if err := os.WriteFile(path, []byte("export = 1\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := registry.Add(path); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := registry.RunScript(context.Background(), path); err != nil {
		t.Fatalf("run: %v", err)
	}

	if err := os.WriteFile(path, []byte("export = 2\n"), 0600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	waitFor(t, "invalidation", func() bool { return !registry.IsLoaded(path) })

	if _, err := registry.RunScript(context.Background(), path); err != nil {
		t.Fatalf("run again: %v", err)
	}
	if err := os.Rename(path, renamed); err != nil {
		t.Fatalf("rename: %v", err)
	}
	waitFor(t, "rename", func() bool { return registry.HasScript(renamed) && !registry.HasScript(path) })
	if !registry.IsWatched(renamed) {
		t.Fatal("expected watcher binding to follow the rename")
	}

	if !registry.RemoveScript(renamed) {
		t.Fatal("expected remove to succeed")
	}
	if got := fsWatcher.Metrics().ActiveWatches; got != 0 {
		t.Fatalf("expected no active watches after remove, got %d", got)
	}
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
