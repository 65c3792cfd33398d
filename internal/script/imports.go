package script

import "sort"

// Imports is the read-only import table shared by every script of a
// registry. Entries cannot be added, removed or replaced after construction.
// The copy is shallow: mutable values stored in it stay mutable.
type Imports struct {
	values map[string]any
}

func NewImports(values map[string]any) Imports {
	copied := make(map[string]any, len(values))
	for name, value := range values {
		copied[name] = value
	}
	return Imports{values: copied}
}

func (imports Imports) Get(name string) (any, bool) {
	value, ok := imports.values[name]
	return value, ok
}

func (imports Imports) Has(name string) bool {
	_, ok := imports.values[name]
	return ok
}

// Names returns the entry names in sorted order.
func (imports Imports) Names() []string {
	names := make([]string, 0, len(imports.values))
	for name := range imports.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (imports Imports) Len() int {
	return len(imports.values)
}

// Range calls fn for each entry in name order until fn returns false.
func (imports Imports) Range(fn func(name string, value any) bool) {
	for _, name := range imports.Names() {
		if !fn(name, imports.values[name]) {
			return
		}
	}
}
