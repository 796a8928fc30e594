// Package registry holds the set of monitored targets. Reads are frequent
// (every scheduler tick); writes happen only on registration changes.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no target with the given ID exists.
	ErrNotFound = errors.New("target not found")
	// ErrDuplicate is returned when a target ID is already registered.
	ErrDuplicate = errors.New("target already registered")
)

// Registry is a concurrency-safe index of active targets.
type Registry struct {
	mu       sync.RWMutex
	targets  map[string]Target
	defaults Defaults

	onRegister   func(Target)
	onDeregister func(string)
}

// New creates an empty Registry. Unset fields of registered targets are
// filled from defaults before validation.
func New(defaults Defaults) *Registry {
	return &Registry{
		targets:  make(map[string]Target),
		defaults: defaults,
	}
}

// SetHooks installs callbacks invoked after a successful registration or
// deregistration, while the registry lock is held. This serializes hook
// invocations with respect to each other, so a register/deregister pair for
// the same ID is never observed out of order.
func (r *Registry) SetHooks(onRegister func(Target), onDeregister func(string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRegister = onRegister
	r.onDeregister = onDeregister
}

// Register validates and adds a target. An empty ID gets a generated one.
// Returns the stored target (with defaults applied) or an error; a rejected
// registration leaves the registry unchanged.
func (r *Registry) Register(t Target) (Target, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t = t.withDefaults(r.defaults)
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	t.CreatedAt = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.targets[t.ID]; exists {
		return Target{}, fmt.Errorf("%w: %q", ErrDuplicate, t.ID)
	}
	r.targets[t.ID] = t
	if r.onRegister != nil {
		r.onRegister(t)
	}
	return t, nil
}

// Deregister removes a target. Its health state and scheduled checks are
// retired via the deregistration hook.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.targets[id]; !exists {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	delete(r.targets, id)
	if r.onDeregister != nil {
		r.onDeregister(id)
	}
	return nil
}

// Get returns the target with the given ID.
func (r *Registry) Get(id string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[id]
	return t, ok
}

// List returns all targets sorted by ID.
func (r *Registry) List() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Target, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered targets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.targets)
}
