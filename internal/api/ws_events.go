package api

import (
	"net/http"
	"strings"
	"time"

	"scriptor/internal/event"
	"scriptor/internal/logging"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

type eventPayload struct {
	Type      string    `json:"type"`
	Path      string    `json:"path,omitempty"`
	NewPath   string    `json:"new_path,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newEventPayload(evt event.ScriptEvent) eventPayload {
	return eventPayload{
		Type:      evt.EventType,
		Path:      evt.Path,
		NewPath:   evt.NewPath,
		Error:     evt.Error,
		Timestamp: evt.OccurredAt,
	}
}

type wsEventsConfig struct {
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
	Bus            *event.Bus[event.ScriptEvent]
}

// serveScriptEvents streams registry lifecycle events. The types query
// parameter takes a comma separated list of event types; history=1 replays
// retained events before live ones.
func serveScriptEvents(w http.ResponseWriter, r *http.Request, config wsEventsConfig) {
	if !requireWSToken(w, r, config.AuthToken, config.Logger) {
		return
	}

	bus := config.Bus
	if bus == nil {
		writeWSError(w, r, nil, config.Logger, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: "event stream unavailable",
		})
		return
	}

	types := parseEventTypes(r.URL.Query().Get("types"))
	_, span := startWebSocketSpan(r, "/api/events", attribute.String("events.types", strings.Join(types, ",")))
	defer span.End()

	var (
		output <-chan event.ScriptEvent
		cancel func()
	)
	if len(types) > 0 {
		output, cancel = bus.SubscribeTypes(types...)
	} else {
		output, cancel = bus.Subscribe()
	}

	conn, err := upgradeWebSocket(w, r, config.AllowedOrigins)
	if err != nil {
		cancel()
		logWSError(config.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	defer cancel()

	var preWrite func(*websocket.Conn) error
	if r.URL.Query().Get("history") == "1" {
		preWrite = func(conn *websocket.Conn) error {
			return writeEventHistory(conn, bus.DumpHistory(), types)
		}
	}

	serveWSStream(w, r, wsStreamConfig[event.ScriptEvent]{
		AllowedOrigins: config.AllowedOrigins,
		Conn:           conn,
		Logger:         config.Logger,
		Output:         output,
		PreWrite:       preWrite,
		BuildPayload: func(evt event.ScriptEvent) (any, bool) {
			return newEventPayload(evt), true
		},
	})
}

func writeEventHistory(conn *websocket.Conn, history []event.ScriptEvent, types []string) error {
	for _, evt := range history {
		if len(types) > 0 && !containsType(types, evt.EventType) {
			continue
		}
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		if err := conn.WriteJSON(newEventPayload(evt)); err != nil {
			return err
		}
	}
	return nil
}

func parseEventTypes(raw string) []string {
	var types []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			types = append(types, trimmed)
		}
	}
	return types
}

func containsType(types []string, eventType string) bool {
	for _, candidate := range types {
		if candidate == eventType {
			return true
		}
	}
	return false
}
