package api

import (
	"errors"
	"io/fs"
	"net/http"

	"scriptor/internal/script"
	"scriptor/internal/watcher"
)

const (
	codeEvaluationFailed = "evaluation_failed"
	codeInvocationFailed = "invocation_failed"
)

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusUnprocessableEntity:
		return "unprocessable"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	default:
		if status >= http.StatusInternalServerError {
			return "internal_error"
		}
	}
	return ""
}

// scriptError maps registry errors to API errors.
func scriptError(err error) *apiError {
	if err == nil {
		return nil
	}
	var evalErr *script.EvaluationError
	var runErr *script.InvocationError
	switch {
	case errors.Is(err, script.ErrEmptyPath):
		return &apiError{Status: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, script.ErrClosed), errors.Is(err, script.ErrNoWatcher), errors.Is(err, script.ErrNoEvaluator):
		return &apiError{Status: http.StatusServiceUnavailable, Message: err.Error()}
	case errors.Is(err, watcher.ErrMaxWatchesExceeded):
		return &apiError{Status: http.StatusServiceUnavailable, Message: err.Error()}
	case errors.As(err, &evalErr):
		if errors.Is(err, fs.ErrNotExist) {
			return &apiError{Status: http.StatusNotFound, Message: err.Error()}
		}
		return &apiError{Status: http.StatusUnprocessableEntity, Message: err.Error(), Code: codeEvaluationFailed}
	case errors.As(err, &runErr):
		return &apiError{Status: http.StatusUnprocessableEntity, Message: err.Error(), Code: codeInvocationFailed}
	case errors.Is(err, fs.ErrNotExist):
		return &apiError{Status: http.StatusNotFound, Message: err.Error()}
	default:
		return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
}
