package guard

import (
	"sort"
	"sync"
)

// Registry holds one Guard per integration point, created on first use.
type Registry struct {
	mu        sync.Mutex
	defaults  Config
	overrides map[string]Config
	guards    map[string]*Guard
	opts      []Option
}

// NewRegistry creates a Registry. Guards named in overrides use that
// configuration; all others use defaults.
func NewRegistry(defaults Config, overrides map[string]Config, opts ...Option) *Registry {
	o := make(map[string]Config, len(overrides))
	for k, v := range overrides {
		o[k] = v
	}
	return &Registry{
		defaults:  defaults,
		overrides: o,
		guards:    make(map[string]*Guard),
		opts:      opts,
	}
}

// Get returns the guard for name, creating it if needed.
func (r *Registry) Get(name string) *Guard {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.guards[name]; ok {
		return g
	}
	config, ok := r.overrides[name]
	if !ok {
		config = r.defaults
	}
	g := New(name, config, r.opts...)
	r.guards[name] = g
	return g
}

// States returns a snapshot of every guard created so far, sorted by name.
func (r *Registry) States() []State {
	r.mu.Lock()
	guards := make([]*Guard, 0, len(r.guards))
	for _, g := range r.guards {
		guards = append(guards, g)
	}
	r.mu.Unlock()

	states := make([]State, 0, len(guards))
	for _, g := range guards {
		states = append(states, g.State())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// Close stops every guard's reset timer.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.guards {
		g.Close()
	}
}
