// Package registry maps user identities to their active transport session.
package registry

import "sync"

// Registry holds the single active session binding per user. Bindings are
// ephemeral; nothing survives a restart and reconnecting clients re-bind.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint]string
}

func New() *Registry {
	return &Registry{sessions: make(map[uint]string)}
}

// Bind associates userID with sessionID, replacing any prior binding for
// that user. Last writer wins when a user opens concurrent connections.
func (r *Registry) Bind(userID uint, sessionID string) {
	r.mu.Lock()
	r.sessions[userID] = sessionID
	r.mu.Unlock()
}

// Unbind removes the entry whose session equals sessionID, if any.
// Disconnects only supply the session, not the user, so this scans values;
// the map is bounded by concurrently connected users.
func (r *Registry) Unbind(sessionID string) {
	r.mu.Lock()
	for userID, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, userID)
			break
		}
	}
	r.mu.Unlock()
}

// SessionFor returns the active session for userID, if one is bound.
func (r *Registry) SessionFor(userID uint) (string, bool) {
	r.mu.RLock()
	sid, ok := r.sessions[userID]
	r.mu.RUnlock()
	return sid, ok
}
