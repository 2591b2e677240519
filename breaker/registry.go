package breaker

import "sync"

// Registry manages a collection of named circuit breakers. It replaces
// any module-level breaker cache: one Registry is created per process and
// handed to every coordinator, so coordinators referencing a breaker by
// the same name share its state. Breakers are reset only via explicit
// Reset/ResetAll calls.
type Registry struct {
	breakers map[string]*CircuitBreaker
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker with the given name, or nil if not found.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// GetOrCreate returns the breaker for config.Name if it exists, otherwise
// creates one with the provided config, registers it, and returns it.
func (r *Registry) GetOrCreate(config Config) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[config.Name]; ok {
		return cb
	}
	cb := New(config)
	r.breakers[config.Name] = cb
	return cb
}

// Register adds a breaker under its config name, replacing any existing
// breaker with the same name.
func (r *Registry) Register(cb *CircuitBreaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[cb.config.Name] = cb
}

// Remove deletes the named breaker from the registry.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, name)
}

// All returns a snapshot of every registered breaker.
func (r *Registry) All() map[string]*CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*CircuitBreaker, len(r.breakers))
	for k, v := range r.breakers {
		out[k] = v
	}
	return out
}

// ResetAll resets every registered breaker to the closed state.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}
