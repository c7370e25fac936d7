package breaker

import (
	"sort"
	"sync"
)

// Registry hands out named breakers, creating them on first use.
type Registry struct {
	mu       sync.Mutex
	defaults Config
	opts     []Option
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a registry whose breakers use defaults unless
// registered explicitly with Register.
func NewRegistry(defaults Config, opts ...Option) *Registry {
	return &Registry{
		defaults: defaults,
		opts:     opts,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker called name, creating it with the defaults.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := New(name, r.defaults, r.opts...)
	r.breakers[name] = cb
	return cb
}

// Register creates name with its own config, or returns the existing breaker.
func (r *Registry) Register(name string, cfg Config) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := New(name, cfg, r.opts...)
	r.breakers[name] = cb
	return cb
}

// Snapshots returns every breaker's snapshot ordered by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		list = append(list, cb)
	}
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].name < list[j].name })
	out := make([]Snapshot, len(list))
	for i, cb := range list {
		out[i] = cb.Snapshot()
	}
	return out
}
