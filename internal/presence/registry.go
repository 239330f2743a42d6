// Package presence tracks which participant is reachable on which live
// connection. The registry is a mutex-guarded table injected into the gateway
// and the protocol services; it does no I/O of its own.
package presence

import "sync"

// Registry maps participant id to the transport id of their single active
// connection. A re-register silently overwrites the previous mapping
// (last-write-wins, single-session policy).
type Registry struct {
	mu    sync.RWMutex
	conns map[string]string // userID -> connID
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]string),
	}
}

// Register binds the participant to the given connection, unconditionally
// overwriting any prior mapping. It returns the superseded connection id, if
// any, so the caller can close the stale socket.
func (r *Registry) Register(userID, connID string) (prev string, superseded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, superseded = r.conns[userID]
	r.conns[userID] = connID
	return prev, superseded
}

// Unregister removes the mapping for the participant, but only when it still
// points at connID. Teardown of a superseded connection is then a no-op, which
// keeps the last-write-wins policy intact. Idempotent.
func (r *Registry) Unregister(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[userID]; !ok || cur != connID {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Lookup returns the active connection id of the participant.
func (r *Registry) Lookup(userID string) (connID string, online bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, online = r.conns[userID]
	return connID, online
}

// IsOnline reports whether the participant has an active connection.
func (r *Registry) IsOnline(userID string) bool {
	_, online := r.Lookup(userID)
	return online
}

// Snapshot returns the current set of online participant ids. Sent once to
// each connection at connect time.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		users = append(users, userID)
	}
	return users
}

// Len returns the number of online participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
