package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the YAML host configuration. Pointer fields distinguish "unset"
// from a zero value so the file only overrides what it names.
type File struct {
	Addr       string         `yaml:"addr"`
	Token      string         `yaml:"token"`
	Scripts    []string       `yaml:"scripts"`
	Watch      *bool          `yaml:"watch"`
	Imports    map[string]any `yaml:"imports"`
	Debounce   *time.Duration `yaml:"debounce"`
	MaxWatches *int           `yaml:"max_watches"`
	LogLevel   string         `yaml:"log_level"`
}

// Load reads a configuration file. Relative script paths are resolved
// against the directory of the file.
func Load(path string) (File, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	file, err := Decode(payload)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	base := filepath.Dir(path)
	for index, script := range file.Scripts {
		if !filepath.IsAbs(script) {
			file.Scripts[index] = filepath.Join(base, script)
		}
	}
	return file, nil
}

// Decode parses a configuration payload. Unknown keys are rejected.
func Decode(payload []byte) (File, error) {
	var file File
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("invalid YAML config: %w", err)
	}
	if err := file.validate(); err != nil {
		return File{}, err
	}
	return file, nil
}

func (file File) validate() error {
	for index, script := range file.Scripts {
		if strings.TrimSpace(script) == "" {
			return fmt.Errorf("scripts[%d] is empty", index)
		}
	}
	if file.Debounce != nil && *file.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative")
	}
	if file.MaxWatches != nil && *file.MaxWatches < 0 {
		return fmt.Errorf("max_watches must not be negative")
	}
	return nil
}
