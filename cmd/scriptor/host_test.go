package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scriptor/internal/logging"
)

func newTestHost(t *testing.T, cfg Config) *host {
	t.Helper()
	h, err := newHost(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	t.Cleanup(func() {
		coordinator := newShutdownCoordinator(nil)
		h.registerShutdown(coordinator)
		if err := coordinator.Run(context.Background()); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	})
	return h
}

func TestHostAddsStartupScriptsLazily(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sum.hcl")
	body := "function \"main\" {\n  params = [x, y]\n  result = x + y\n}\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write script: %v", err)
	}
	missing := filepath.Join(dir, "missing.hcl")

	h := newTestHost(t, Config{
		Scripts:    []string{path, missing},
		Watch:      true,
		Debounce:   10 * time.Millisecond,
		MaxWatches: 10,
		Imports:    map[string]any{"greeting": "hello"},
	})

	if !h.registry.HasScript(path) {
		t.Fatalf("expected startup script to be registered")
	}
	if h.registry.IsLoaded(path) {
		t.Fatalf("expected startup script not to be evaluated")
	}
	if !h.registry.IsWatched(path) {
		t.Fatalf("expected startup script to be watched")
	}
	if h.registry.HasScript(missing) {
		t.Fatalf("expected missing startup script to be skipped")
	}
	if !h.registry.Imports().Has("greeting") {
		t.Fatalf("expected configured imports")
	}

	server := httptest.NewServer(h.handler)
	defer server.Close()

	payload := strings.NewReader(`{"path":"` + path + `","args":[2,3]}`)
	res, err := http.Post(server.URL+"/api/scripts/run", "application/json", payload)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	var decoded struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded.Result) != "5" {
		t.Fatalf("expected 5, got %s", decoded.Result)
	}
}

func TestHostShutdownClosesRegistry(t *testing.T) {
	h, err := newHost(Config{MaxWatches: 10}, logging.Discard())
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	coordinator := newShutdownCoordinator(nil)
	h.registerShutdown(coordinator)
	if err := coordinator.Run(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := h.registry.AddScript(filepath.Join(t.TempDir(), "a.hcl"), false); err == nil {
		t.Fatalf("expected closed registry to reject new scripts")
	}
}
