package chat

import (
	"sync"
)

// Registry maps users to their live connections. One instance is built per
// hub; nothing here is process-global.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Conn // user -> conn_id -> conn
	byConn map[string]*Conn            // conn_id -> conn
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]*Conn),
		byConn: make(map[string]*Conn),
	}
}

// Register adds c to userID's device set. first reports the online
// transition (the user had no connections before).
func (r *Registry) Register(userID string, c *Conn) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.byUser[userID]
	if m == nil {
		m = make(map[string]*Conn)
		r.byUser[userID] = m
	}
	first = len(m) == 0
	m[c.ID] = c
	r.byConn[c.ID] = c
	return first
}

// Unregister removes c. last reports the offline transition (the set became
// empty). Removing an unknown connection is a no-op reporting false.
func (r *Registry) Unregister(userID string, c *Conn) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.byUser[userID]
	if m == nil {
		return false
	}
	if _, ok := m[c.ID]; !ok {
		return false
	}
	delete(m, c.ID)
	delete(r.byConn, c.ID)
	if len(m) == 0 {
		delete(r.byUser, userID)
		return true
	}
	return false
}

func (r *Registry) ConnectionsFor(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byUser[userID]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

func (r *Registry) Get(connID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byConn[connID]
	return c, ok
}

// Count is the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// All snapshots every live connection (shutdown and debugging only).
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.byConn))
	for _, c := range r.byConn {
		out = append(out, c)
	}
	return out
}
