package presence

import "sync"

// Session is the handle the registry holds for a live connection. The
// concrete type lives in the session package; the delivery engine only
// ever pushes frames through it.
type Session interface {
	// Send writes one outbound frame to the connection. Writes for a
	// single session are serialized by the implementation.
	Send(frame any) error
}

// Registry maps principal id to the active session handle. It is the
// single source of truth for "is this principal currently reachable".
// It holds no persistence: the registry is process-lifetime and rebuilt
// from zero on restart, so every session re-announces itself with a
// connect event after reconnect.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int64]Session)}
}

// Register binds a principal to a session, replacing any prior entry
// (last registration wins). The superseded session is not closed, only
// unreachable for future routing.
func (r *Registry) Register(principalID int64, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[principalID] = s
}

// Lookup returns the active session for a principal, if any.
func (r *Registry) Lookup(principalID int64) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[principalID]
	return s, ok
}

// Unregister removes the entry only if it still points at the calling
// session, so a stale disconnect cannot evict a newer session.
func (r *Registry) Unregister(principalID int64, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[principalID]; ok && cur == s {
		delete(r.sessions, principalID)
	}
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
