package server

import "sync"

// Registry is the set of admitted connections. It is the only state shared
// between connection goroutines; callers iterate snapshots outside the lock.
type Registry struct {
	mu    sync.RWMutex
	order []*Connection
	byID  map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Connection)}
}

// Add admits conn. Adding a handle that is already present does nothing.
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[conn.id]; ok {
		return
	}
	r.byID[conn.id] = conn
	r.order = append(r.order, conn)
}

// Remove drops conn and reports whether it was present. Removing twice is
// harmless; only the first call returns true.
func (r *Registry) Remove(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[conn.id]; !ok {
		return false
	}
	delete(r.byID, conn.id)
	for i, c := range r.order {
		if c == conn {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot returns the admitted connections in admission order. The slice
// is a copy and may be used after the registry changes.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
