package breaker

import (
	"sort"
	"strings"
	"sync"
)

// Registry is the process-wide catalog of circuit breakers. It observes
// breakers passively for health reporting; it never drives their state.
// Constructed explicitly at startup and passed by dependency injection.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// Register adds a breaker under name. Registering an existing name replaces
// the previous entry; breakers are registered once at startup, so in
// practice names are unique.
func (r *Registry) Register(name string, cb *CircuitBreaker) {
	r.mu.Lock()
	r.breakers[name] = cb
	r.mu.Unlock()
}

// Get returns the breaker registered under name.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// All returns a metrics snapshot for every registered breaker.
func (r *Registry) All() map[string]Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Metrics, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.Metrics()
	}
	return out
}

// isCritical reports whether a breaker name follows the cache/database
// naming convention that marks it readiness-critical.
func isCritical(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "cache") ||
		strings.Contains(lower, "db") ||
		strings.Contains(lower, "database")
}

// Critical returns the names of readiness-critical breakers, sorted.
func (r *Registry) Critical() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name := range r.breakers {
		if isCritical(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// IsHealthy reports whether no critical breaker is open. Non-critical
// breakers may be open without flipping readiness.
func (r *Registry) IsHealthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, cb := range r.breakers {
		if isCritical(name) && cb.State() == StateOpen {
			return false
		}
	}
	return true
}

// Degraded returns the names of breakers currently open or half-open, sorted.
func (r *Registry) Degraded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, cb := range r.breakers {
		if st := cb.State(); st == StateOpen || st == StateHalfOpen {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
