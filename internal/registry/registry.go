// Package registry tracks which users are online and through which
// connections.
package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/model"
)

// Conn is a live connection owned by the gateway.
type Conn interface {
	ID() string
	UserID() uuid.UUID
	Username() string
	// Send enqueues env for the connection's writer. It never blocks and
	// reports false when the frame was dropped.
	Send(env model.Envelope) bool
	Close() error
}

// Registry maps a user to the set of its live connections. A user is online
// iff that set is non-empty.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]map[string]Conn
}

func New() *Registry {
	return &Registry{
		conns: make(map[uuid.UUID]map[string]Conn),
	}
}

// Add registers c and reports whether it is the user's first live
// connection.
func (r *Registry) Add(c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[c.UserID()]
	if !ok {
		set = make(map[string]Conn)
		r.conns[c.UserID()] = set
	}
	set[c.ID()] = c

	return len(set) == 1
}

// Remove deregisters c and reports whether it was the user's last live
// connection. Removing an unknown connection is a no-op that returns false.
func (r *Registry) Remove(c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[c.UserID()]
	if !ok {
		return false
	}
	if _, exists := set[c.ID()]; !exists {
		return false
	}

	delete(set, c.ID())
	if len(set) == 0 {
		delete(r.conns, c.UserID())
		return true
	}

	return false
}

// Connections returns a snapshot of the user's live connections.
func (r *Registry) Connections(userID uuid.UUID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.conns[userID]
	if len(set) == 0 {
		return nil
	}

	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Lookup finds one of the user's connections by id.
func (r *Registry) Lookup(userID uuid.UUID, connID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[userID][connID]
	return c, ok
}

func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// Stats returns the number of online users and live connections.
func (r *Registry) Stats() (users, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, set := range r.conns {
		conns += len(set)
	}
	return len(r.conns), conns
}

// All returns a snapshot of every live connection.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Conn
	for _, set := range r.conns {
		for _, c := range set {
			out = append(out, c)
		}
	}
	return out
}
