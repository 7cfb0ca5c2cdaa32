package gate

import (
	"fmt"
	"sync"
)

// Registry holds admission checks in evaluation order.
type Registry struct {
	mu     sync.RWMutex
	checks []*Check
	byID   map[string]*Check
}

// NewRegistry creates an empty check registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Check)}
}

// Register appends a check. Returns an error if a check with the same ID
// is already registered.
func (r *Registry) Register(c *Check) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[c.ID]; exists {
		return fmt.Errorf("check %q already registered", c.ID)
	}
	if c.Mode == "" {
		c.Mode = ModeStrict
	}
	r.checks = append(r.checks, c)
	r.byID[c.ID] = c
	return nil
}

// Unregister removes a check by ID.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; !exists {
		return
	}
	delete(r.byID, id)
	for i, c := range r.checks {
		if c.ID == id {
			r.checks = append(r.checks[:i], r.checks[i+1:]...)
			break
		}
	}
}

// Get returns a check by ID, or nil if not found.
func (r *Registry) Get(id string) *Check {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// Checks returns the registered checks in evaluation order.
func (r *Registry) Checks() []*Check {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Check, len(r.checks))
	copy(result, r.checks)
	return result
}

// Count returns the number of registered checks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.checks)
}
