package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"scriptor/internal/hclscript"
	"scriptor/internal/logging"
	"scriptor/internal/script"

	"github.com/zclconf/go-cty/cty"
)

const defaultRunTimeout = 30 * time.Second

// ScriptsHandler serves the script registry over REST.
type ScriptsHandler struct {
	Registry   *script.Registry
	Logger     *logging.Logger
	RunTimeout time.Duration
}

func (h *ScriptsHandler) handleScripts(w http.ResponseWriter, r *http.Request) *apiError {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, scriptsResponse{Scripts: h.Registry.Scripts()})
		return nil
	case http.MethodPost:
		var request scriptRequest
		if err := readJSON(r, &request); err != nil {
			return err
		}
		if err := requirePath(request.Path); err != nil {
			return err
		}
		watch := true
		if request.Watch != nil {
			watch = *request.Watch
		}
		if err := h.Registry.AddScript(request.Path, watch); err != nil {
			return scriptError(err)
		}
		info, _ := h.Registry.Lookup(request.Path)
		writeJSON(w, http.StatusCreated, info)
		return nil
	case http.MethodDelete:
		path := r.URL.Query().Get("path")
		if err := requirePath(path); err != nil {
			return err
		}
		if !h.Registry.RemoveScript(path) {
			return &apiError{Status: http.StatusNotFound, Message: fmt.Sprintf("script %s is not tracked", path)}
		}
		writeJSON(w, http.StatusOK, removeResponse{Path: path, Removed: true})
		return nil
	default:
		return methodNotAllowed(w, "GET, POST, DELETE")
	}
}

func (h *ScriptsHandler) handleRun(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	var request runRequest
	if err := readJSON(r, &request); err != nil {
		return err
	}
	if err := requirePath(request.Path); err != nil {
		return err
	}
	args, apiErr := decodeArgs(request.Args)
	if apiErr != nil {
		return apiErr
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.runTimeout())
	defer cancel()
	result, err := h.Registry.RunScript(ctx, request.Path, args...)
	if err != nil {
		return scriptError(err)
	}
	encoded, err := encodeResult(result)
	if err != nil {
		return &apiError{Status: http.StatusInternalServerError, Message: fmt.Sprintf("encode result: %v", err)}
	}
	writeJSON(w, http.StatusOK, runResponse{Path: request.Path, Result: encoded})
	return nil
}

func (h *ScriptsHandler) handleReload(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	var request scriptRequest
	if err := readJSON(r, &request); err != nil {
		return err
	}
	if err := requirePath(request.Path); err != nil {
		return err
	}
	watch := request.Watch != nil && *request.Watch

	ctx, cancel := context.WithTimeout(r.Context(), h.runTimeout())
	defer cancel()
	if err := h.Registry.ReloadScript(ctx, request.Path, watch); err != nil {
		return scriptError(err)
	}
	info, _ := h.Registry.Lookup(request.Path)
	writeJSON(w, http.StatusOK, info)
	return nil
}

func (h *ScriptsHandler) handleWatch(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	var request scriptRequest
	if err := readJSON(r, &request); err != nil {
		return err
	}
	if err := requirePath(request.Path); err != nil {
		return err
	}
	if err := h.Registry.WatchScript(request.Path); err != nil {
		return scriptError(err)
	}
	info, _ := h.Registry.Lookup(request.Path)
	writeJSON(w, http.StatusOK, info)
	return nil
}

func (h *ScriptsHandler) handleUnwatch(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	var request scriptRequest
	if err := readJSON(r, &request); err != nil {
		return err
	}
	if err := requirePath(request.Path); err != nil {
		return err
	}
	h.Registry.UnwatchScript(request.Path)
	info, ok := h.Registry.Lookup(request.Path)
	if !ok {
		return &apiError{Status: http.StatusNotFound, Message: fmt.Sprintf("script %s is not tracked", request.Path)}
	}
	writeJSON(w, http.StatusOK, info)
	return nil
}

func (h *ScriptsHandler) handleClear(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	h.Registry.Clear()
	if h.Logger != nil {
		h.Logger.Info("script registry cleared", nil)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *ScriptsHandler) runTimeout() time.Duration {
	if h.RunTimeout > 0 {
		return h.RunTimeout
	}
	return defaultRunTimeout
}

func requirePath(path string) *apiError {
	if strings.TrimSpace(path) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "path is required"}
	}
	return nil
}

// decodeArgs turns a JSON array into invocation arguments.
func decodeArgs(raw json.RawMessage) ([]any, *apiError) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	value, err := hclscript.FromJSON(raw)
	if err != nil {
		return nil, &apiError{Status: http.StatusBadRequest, Message: fmt.Sprintf("invalid args: %v", err)}
	}
	if !value.Type().IsTupleType() {
		return nil, &apiError{Status: http.StatusBadRequest, Message: "args must be a JSON array"}
	}
	args := make([]any, 0, value.LengthInt())
	for it := value.ElementIterator(); it.Next(); {
		_, element := it.Element()
		args = append(args, element)
	}
	return args, nil
}

func encodeResult(result any) (json.RawMessage, error) {
	if value, ok := result.(cty.Value); ok {
		return hclscript.ToJSON(value)
	}
	return json.Marshal(result)
}
