package core

import (
	"fmt"
	"slices"
	"sync"
)

// Registry is the set of currently open connections, keyed by connection ID.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Connection
	order []*Connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Connection)}
}

// Register adds c. It fails with ErrDuplicateConnection if the ID is taken and leaves the registry unchanged.
func (r *Registry) Register(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[c.ID]; exists {
		return fmt.Errorf("register %s: %w", c.ID, ErrDuplicateConnection)
	}
	r.byID[c.ID] = c
	r.order = append(r.order, c)
	return nil
}

// Unregister removes the connection with id. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.byID[id]; ok {
		r.removeLocked(c)
	}
}

// remove deletes c only if it is the entry registered under its ID.
func (r *Registry) remove(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byID[c.ID] == c {
		r.removeLocked(c)
	}
}

func (r *Registry) removeLocked(c *Connection) {
	delete(r.byID, c.ID)
	r.order = slices.DeleteFunc(r.order, func(other *Connection) bool { return other == c })
}

// AllExcept returns a snapshot of every connection but id, in registration order.
func (r *Registry) AllExcept(id string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.order))
	for _, c := range r.order {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

// Snapshot returns every registered connection.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Get looks up a connection by id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// Len is the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
