// Package registry holds the connections of one endpoint, keyed by
// identifier, and selects subsets of them with filters.
//
// A client keys its connections by the names it chose ("main" by default);
// a server keys them by the identifiers it assigned during the handshake.
package registry

import (
	"sync"

	"wspreset/connection"
)

// Registry preserves registration order so that "first connection" means
// the same thing on every call.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connection.Connection
	order []string
}

func New() *Registry {
	return &Registry{conns: make(map[string]*connection.Connection)}
}

// Add registers c under its identifier, replacing any other connection held
// under that key.
func (r *Registry) Add(c *connection.Connection) {
	id := c.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		r.dropKey(id)
	}
	r.conns[id] = c
	r.order = append(r.order, id)
}

// AddIfAbsent registers c unless its identifier is already taken, and
// reports whether it did.
func (r *Registry) AddIfAbsent(c *connection.Connection) bool {
	id := c.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		return false
	}
	r.conns[id] = c
	r.order = append(r.order, id)
	return true
}

func (r *Registry) Get(id string) (*connection.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Remove deletes whatever is registered under id.
func (r *Registry) Remove(id string) (*connection.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if ok {
		r.dropKey(id)
	}
	return c, ok
}

// RemoveConn deletes c only if it is still the connection registered under
// its identifier. A connection that was replaced by a resumed session leaves
// its successor alone.
func (r *Registry) RemoveConn(c *connection.Connection) bool {
	id := c.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[id] != c {
		return false
	}
	r.dropKey(id)
	return true
}

// Rekey moves c to the key to. A different connection already under to is
// removed and returned so the caller can terminate it.
func (r *Registry) Rekey(c *connection.Connection, to string) (stale *connection.Connection) {
	from := c.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.conns[to]; ok && prev != c {
		stale = prev
		r.dropKey(to)
	}
	if r.conns[from] == c {
		r.dropKey(from)
	}
	c.SetID(to)
	r.conns[to] = c
	r.order = append(r.order, to)
	return stale
}

// dropKey must be called with r.mu held.
func (r *Registry) dropKey(id string) {
	delete(r.conns, id)
	for i, k := range r.order {
		if k == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns every connection in registration order. The slice is the
// caller's; the registry may change while it is being iterated.
func (r *Registry) Snapshot() []*connection.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*connection.Connection, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.conns[id])
	}
	return out
}

// Connections returns the connections selected by f; nil selects all of them.
func (r *Registry) Connections(f Filter) []*connection.Connection {
	all := r.Snapshot()
	if f == nil {
		return all
	}
	return f.Select(all)
}
