package api

import (
	"net/http"
	"time"

	"scriptor/internal/event"
	"scriptor/internal/logging"
	"scriptor/internal/metrics"
	"scriptor/internal/script"
)

// Options wires the API to the registry and its collaborators.
type Options struct {
	Registry       *script.Registry
	Bus            *event.Bus[event.ScriptEvent]
	Metrics        *metrics.Registry
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
	RunTimeout     time.Duration
}

func RegisterRoutes(mux *http.ServeMux, options Options) {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.Component("api")

	scripts := &ScriptsHandler{
		Registry:   options.Registry,
		Logger:     logger,
		RunTimeout: options.RunTimeout,
	}
	token := options.AuthToken
	wrap := func(handler http.Handler) http.Handler {
		return loggingMiddleware(logger, handler)
	}

	mux.Handle("/api/scripts", wrap(restHandler(token, scripts.handleScripts)))
	mux.Handle("/api/scripts/run", wrap(restHandler(token, scripts.handleRun)))
	mux.Handle("/api/scripts/reload", wrap(restHandler(token, scripts.handleReload)))
	mux.Handle("/api/scripts/watch", wrap(restHandler(token, scripts.handleWatch)))
	mux.Handle("/api/scripts/unwatch", wrap(restHandler(token, scripts.handleUnwatch)))
	mux.Handle("/api/scripts/clear", wrap(restHandler(token, scripts.handleClear)))
	mux.Handle("/api/events", wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveScriptEvents(w, r, wsEventsConfig{
			Logger:         logger,
			AuthToken:      token,
			AllowedOrigins: options.AllowedOrigins,
			Bus:            options.Bus,
		})
	})))
	mux.Handle("/metrics", wrap(metricsHandler(options.Metrics)))
}

func metricsHandler(registry *metrics.Registry) http.HandlerFunc {
	if registry == nil {
		registry = metrics.Default
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		setSecurityHeaders(w, cacheControlNoStore)
		if err := registry.WritePrometheus(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
