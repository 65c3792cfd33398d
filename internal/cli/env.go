package cli

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Env reads settings from environment variables sharing a prefix. Values
// that are blank or fail to parse are reported as unset.
type Env struct {
	Prefix string
}

func (env Env) key(name string) string {
	return env.Prefix + name
}

func (env Env) String(name string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(env.key(name)))
	return value, value != ""
}

// Raw returns the value without trimming, so secrets keep their bytes.
func (env Env) Raw(name string) (string, bool) {
	value := os.Getenv(env.key(name))
	return value, value != ""
}

func (env Env) Bool(name string) (bool, bool) {
	raw, ok := env.String(name)
	if !ok {
		return false, false
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return parsed, true
}

func (env Env) Int(name string) (int, bool) {
	raw, ok := env.String(name)
	if !ok {
		return 0, false
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func (env Env) Duration(name string) (time.Duration, bool) {
	raw, ok := env.String(name)
	if !ok {
		return 0, false
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func (env Env) List(name string) ([]string, bool) {
	raw, ok := env.String(name)
	if !ok {
		return nil, false
	}
	values := SplitList(raw)
	return values, len(values) > 0
}
