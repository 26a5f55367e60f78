package ftpproto

import "sync"

// SessionRegistry is the shared, mutex-protected session directory used by
// SITE WHO/KILL (§9 Design Notes: "global mutable session registry ...
// becomes a shared, mutex-protected map ... owned by the server"). Go has
// no weak-reference primitive suited to this; sessions are removed
// explicitly on disconnect instead of relying on GC visibility.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[uint32]*Session
}

// NewSessionRegistry returns an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[uint32]*Session)}
}

// Register adds s to the directory, called once the session is accepted.
func (reg *SessionRegistry) Register(s *Session) {
	reg.mu.Lock()
	reg.sessions[s.ID] = s
	reg.mu.Unlock()
}

// Unregister removes s, called on disconnect.
func (reg *SessionRegistry) Unregister(s *Session) {
	reg.mu.Lock()
	delete(reg.sessions, s.ID)
	reg.mu.Unlock()
}

// Snapshot returns every currently registered session (for SITE WHO).
func (reg *SessionRegistry) Snapshot() []*Session {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]*Session, 0, len(reg.sessions))
	for _, s := range reg.sessions {
		out = append(out, s)
	}
	return out
}

// Find looks up a session by id (for SITE KILL).
func (reg *SessionRegistry) Find(id uint32) (*Session, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	s, ok := reg.sessions[id]
	return s, ok
}
