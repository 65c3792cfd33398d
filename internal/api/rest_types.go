package api

import (
	"encoding/json"

	"scriptor/internal/script"
)

type scriptRequest struct {
	Path  string `json:"path"`
	Watch *bool  `json:"watch,omitempty"`
}

type runRequest struct {
	Path string          `json:"path"`
	Args json.RawMessage `json:"args,omitempty"`
}

type runResponse struct {
	Path   string          `json:"path"`
	Result json.RawMessage `json:"result"`
}

type scriptsResponse struct {
	Scripts []script.Info `json:"scripts"`
}

type removeResponse struct {
	Path    string `json:"path"`
	Removed bool   `json:"removed"`
}
