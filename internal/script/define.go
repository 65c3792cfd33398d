package script

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrAlreadyDefined    = errors.New("define called more than once")
)

// Definer lets a script declare its dependencies while it is evaluated. The
// returned map holds one resolved value per requested name.
type Definer interface {
	Define(deps ...string) (map[string]any, error)
}

// Shim is the default Definer. Dependencies resolve against the registry
// import table; a script may call Define at most once per evaluation.
type Shim struct {
	id      string
	imports Imports

	mu      sync.Mutex
	defined bool
	deps    []string
}

func NewDefiner(id string, imports Imports) *Shim {
	return &Shim{id: id, imports: imports}
}

func (shim *Shim) ID() string {
	return shim.id
}

func (shim *Shim) Define(deps ...string) (map[string]any, error) {
	shim.mu.Lock()
	defer shim.mu.Unlock()
	if shim.defined {
		return nil, fmt.Errorf("%s: %w", shim.id, ErrAlreadyDefined)
	}

	resolved := make(map[string]any, len(deps))
	names := make([]string, 0, len(deps))
	for _, dep := range deps {
		name := strings.TrimSpace(dep)
		if name == "" {
			return nil, fmt.Errorf("%s: dependency name is required", shim.id)
		}
		value, ok := shim.imports.Get(name)
		if !ok {
			return nil, fmt.Errorf("%s: %w %q", shim.id, ErrUnknownDependency, name)
		}
		if _, seen := resolved[name]; !seen {
			names = append(names, name)
		}
		resolved[name] = value
	}
	shim.defined = true
	shim.deps = names
	return resolved, nil
}

// Deps returns the dependency names declared so far, in declaration order.
func (shim *Shim) Deps() []string {
	shim.mu.Lock()
	defer shim.mu.Unlock()
	return append([]string(nil), shim.deps...)
}

type depsReporter interface {
	Deps() []string
}
