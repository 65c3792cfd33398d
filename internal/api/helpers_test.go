package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scriptor/internal/event"
	"scriptor/internal/hclscript"
	"scriptor/internal/metrics"
	"scriptor/internal/script"
	"scriptor/internal/watcher"
)

type testServer struct {
	server   *httptest.Server
	registry *script.Registry
	bus      *event.Bus[event.ScriptEvent]
	metrics  *metrics.Registry
	dir      string
	token    string
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	fsWatcher, err := watcher.NewWithOptions(watcher.Options{Debounce: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	registryMetrics := &metrics.Registry{}
	bus := event.NewBus[event.ScriptEvent](context.Background(), event.BusOptions{
		Name:        "script_events",
		HistorySize: 32,
		Metrics:     registryMetrics,
	})
	registry := script.NewRegistry(script.Options{
		Evaluator: hclscript.New(hclscript.Options{}),
		Watch:     watcher.NewAdapter(fsWatcher, nil),
		Bus:       bus,
		Metrics:   registryMetrics,
		Imports:   map[string]any{"greeting": "hello"},
	})

	mux := http.NewServeMux()
	RegisterRoutes(mux, Options{
		Registry:  registry,
		Bus:       bus,
		Metrics:   registryMetrics,
		AuthToken: token,
	})
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		registry.Close()
		bus.Close()
		_ = fsWatcher.Close()
	})
	return &testServer{
		server:   server,
		registry: registry,
		bus:      bus,
		metrics:  registryMetrics,
		dir:      t.TempDir(),
		token:    token,
	}
}

func (ts *testServer) writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(ts.dir, name)
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func (ts *testServer) do(t *testing.T, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, ts.server.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decodeBody[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return out
}

const sumScript = `
function "main" {
  params = [x, y]
  result = x + y
}
`
