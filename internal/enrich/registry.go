package enrich

import (
	"fmt"
	"sort"
)

// Registry is the closed set of named adapters. Selection happens by name
// against this static table, never by runtime type inspection.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if err := r.register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(a Adapter) error {
	if a.Name() == "" {
		return fmt.Errorf("adapter has no name")
	}
	if _, exists := r.adapters[a.Name()]; exists {
		return fmt.Errorf("adapter %q already registered", a.Name())
	}
	r.adapters[a.Name()] = a
	return nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown adapter %q", name)
	}
	return a, nil
}

// Select resolves a list of adapter names. An empty list selects every
// registered adapter, in name order.
func (r *Registry) Select(names []string) ([]Adapter, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	adapters := make([]Adapter, 0, len(names))
	for _, name := range names {
		a, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
