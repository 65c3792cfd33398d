package main

import (
	"context"
	"net/http"
	"strconv"

	"scriptor/internal/api"
	"scriptor/internal/event"
	"scriptor/internal/hclscript"
	"scriptor/internal/logging"
	"scriptor/internal/metrics"
	"scriptor/internal/script"
	"scriptor/internal/watcher"
)

// host owns the long lived collaborators of the registry.
type host struct {
	logger   *logging.Logger
	metrics  *metrics.Registry
	watcher  *watcher.Watcher
	bus      *event.Bus[event.ScriptEvent]
	registry *script.Registry
	handler  http.Handler
}

func newHost(cfg Config, logger *logging.Logger) (*host, error) {
	registryMetrics := metrics.Default
	fsWatcher, err := watcher.NewWithOptions(watcher.Options{
		Logger:     logger,
		Debounce:   cfg.Debounce,
		MaxWatches: cfg.MaxWatches,
	})
	if err != nil {
		return nil, err
	}

	bus := event.NewBus[event.ScriptEvent](context.Background(), event.BusOptions{
		Name:        "script_events",
		HistorySize: cfg.HistorySize,
		Metrics:     registryMetrics,
	})

	registry := script.NewRegistry(script.Options{
		Imports:   cfg.Imports,
		Evaluator: hclscript.New(hclscript.Options{Logger: logger}),
		Watch:     watcher.NewAdapter(fsWatcher, logger),
		Logger:    logger,
		Bus:       bus,
		Metrics:   registryMetrics,
	})

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Options{
		Registry:   registry,
		Bus:        bus,
		Metrics:    registryMetrics,
		Logger:     logger,
		AuthToken:  cfg.AuthToken,
		RunTimeout: cfg.RunTimeout,
	})

	h := &host{
		logger:   logger,
		metrics:  registryMetrics,
		watcher:  fsWatcher,
		bus:      bus,
		registry: registry,
		handler:  mux,
	}
	h.addStartupScripts(cfg.Scripts, cfg.Watch)
	return h, nil
}

// addStartupScripts registers configured scripts without evaluating them.
// A script that cannot be added is logged and skipped.
func (h *host) addStartupScripts(paths []string, watch bool) {
	added := 0
	for _, path := range paths {
		if err := h.registry.AddScript(path, watch); err != nil {
			h.logger.Warn("startup script skipped", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		added++
	}
	if len(paths) > 0 {
		h.logger.Info("startup scripts added", map[string]string{
			"count": strconv.Itoa(added),
			"watch": strconv.FormatBool(watch),
		})
	}
}

// registerShutdown closes the registry before the bus and watcher it feeds on.
func (h *host) registerShutdown(coordinator *shutdownCoordinator) {
	coordinator.Add("registry", func(context.Context) error {
		h.registry.Close()
		return nil
	})
	coordinator.Add("events", func(context.Context) error {
		h.bus.Close()
		return nil
	})
	coordinator.Add("watcher", func(context.Context) error {
		return h.watcher.Close()
	})
}
