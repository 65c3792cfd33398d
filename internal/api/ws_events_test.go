package api

import (
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"scriptor/internal/event"

	"github.com/gorilla/websocket"
)

func dialEvents(t *testing.T, ts *testServer, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/api/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) eventPayload {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var payload eventPayload
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return payload
}

func TestEventsStreamFiltersByType(t *testing.T) {
	ts := newTestServer(t, "secret")
	conn := dialEvents(t, ts, "?token=secret&types=script.loaded")

	path := ts.writeScript(t, "value.hcl", "export = 1\n")
	if res, body := ts.do(t, http.MethodPost, "/api/scripts/run", map[string]any{"path": path}); res.StatusCode != http.StatusOK {
		t.Fatalf("run: %d %s", res.StatusCode, body)
	}

	payload := readEvent(t, conn)
	if payload.Type != event.ScriptLoaded || payload.Path != path {
		t.Fatalf("expected %s for %s, got %+v", event.ScriptLoaded, path, payload)
	}
	if payload.Timestamp.IsZero() {
		t.Fatal("expected event timestamp")
	}
}

func TestEventsStreamReplaysHistory(t *testing.T) {
	ts := newTestServer(t, "")
	path := ts.writeScript(t, "value.hcl", "export = 1\n")
	if res, body := ts.do(t, http.MethodPost, "/api/scripts", map[string]any{"path": path, "watch": false}); res.StatusCode != http.StatusCreated {
		t.Fatalf("add: %d %s", res.StatusCode, body)
	}
	ts.registry.RemoveScript(path)

	conn := dialEvents(t, ts, "?history=1&types=script.added,script.removed")
	first := readEvent(t, conn)
	second := readEvent(t, conn)
	if first.Type != event.ScriptAdded || second.Type != event.ScriptRemoved {
		t.Fatalf("expected added then removed, got %s then %s", first.Type, second.Type)
	}
}

func TestEventsStreamRejectsMissingToken(t *testing.T) {
	ts := newTestServer(t, "secret")
	wsURL := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/api/events"
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		_ = conn.Close()
		t.Fatal("expected dial to fail without token")
	}
	if res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", res)
	}
}

func TestParseEventTypes(t *testing.T) {
	got := parseEventTypes(" script.loaded, ,script.removed ")
	want := []string{"script.loaded", "script.removed"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if parseEventTypes("") != nil {
		t.Fatal("expected no types for empty input")
	}
}
