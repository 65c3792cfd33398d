package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDecodeFullFile(t *testing.T) {
	file, err := Decode([]byte(`
addr: 0.0.0.0:9000
token: secret
scripts:
  - /srv/scripts/a.hcl
watch: false
debounce: 75ms
max_watches: 12
log_level: debug
imports:
  greeting: hello
  limits:
    max: 3
  tags: [a, b]
`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if file.Addr != "0.0.0.0:9000" || file.Token != "secret" || file.LogLevel != "debug" {
		t.Fatalf("unexpected scalars %+v", file)
	}
	if file.Watch == nil || *file.Watch {
		t.Fatal("expected watch=false to be recorded")
	}
	if file.Debounce == nil || *file.Debounce != 75*time.Millisecond {
		t.Fatalf("expected debounce 75ms, got %v", file.Debounce)
	}
	if file.MaxWatches == nil || *file.MaxWatches != 12 {
		t.Fatalf("expected max_watches 12, got %v", file.MaxWatches)
	}
	if file.Imports["greeting"] != "hello" {
		t.Fatalf("expected greeting import, got %v", file.Imports["greeting"])
	}
	limits, ok := file.Imports["limits"].(map[string]any)
	if !ok || limits["max"] != 3 {
		t.Fatalf("expected nested limits, got %#v", file.Imports["limits"])
	}
	if tags, ok := file.Imports["tags"].([]any); !ok || len(tags) != 2 {
		t.Fatalf("expected tags list, got %#v", file.Imports["tags"])
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	file, err := Decode(nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if file.Addr != "" || file.Watch != nil || len(file.Scripts) != 0 {
		t.Fatalf("expected zero file, got %+v", file)
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := Decode([]byte("adress: 127.0.0.1:1\n"))
	if err == nil || !strings.Contains(err.Error(), "adress") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestDecodeRejectsInvalidValues(t *testing.T) {
	cases := []string{
		"scripts: ['']\n",
		"debounce: -1s\n",
		"max_watches: -2\n",
		"debounce: soon\n",
	}
	for _, payload := range cases {
		if _, err := Decode([]byte(payload)); err == nil {
			t.Fatalf("expected error for %q", payload)
		}
	}
}

func TestLoadResolvesRelativeScripts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scriptor.yaml")
	payload := "scripts:\n  - a.hcl\n  - /abs/b.hcl\n"
	if err := os.WriteFile(path, []byte(payload), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	file, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if file.Scripts[0] != filepath.Join(dir, "a.hcl") {
		t.Fatalf("expected relative script resolved against config dir, got %s", file.Scripts[0])
	}
	if file.Scripts[1] != "/abs/b.hcl" {
		t.Fatalf("expected absolute script untouched, got %s", file.Scripts[1])
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not exist error, got %v", err)
	}
}
