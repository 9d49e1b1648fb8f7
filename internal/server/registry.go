package server

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry is the single source of truth for who is connected. It maps
// address keys to sessions and keeps the sessions in registration order for
// broadcast iteration. The map and the ordered slice only change together,
// under mu.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []*Session
	log      logrus.FieldLogger
}

// NewRegistry returns an empty registry.
func NewRegistry(log logrus.FieldLogger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		log:      log,
	}
}

// Register inserts s under its address key. A key that is already present
// should not happen with host+port keys; it is logged, the previous session is
// closed and replaced, and Register returns false.
func (r *Registry) Register(s *Session) bool {
	r.mu.Lock()
	prev, exists := r.sessions[s.key]
	if exists && prev == s {
		r.mu.Unlock()
		return false
	}
	if exists {
		r.removeLocked(prev)
	}
	r.sessions[s.key] = s
	r.order = append(r.order, s)
	count := len(r.sessions)
	r.mu.Unlock()

	if exists {
		r.log.WithFields(logrus.Fields{
			"addr":     s.key,
			"previous": prev.username,
			"user":     s.username,
		}).Warn("Duplicate session key, replacing previous session")
		_ = prev.Close()
		return false
	}

	r.log.WithField("addr", s.key).Debugf("Session registered. Total sessions: %d", count)
	return true
}

// Lookup returns the username registered for addr.
func (r *Registry) Lookup(addr net.Addr) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[AddressKey(addr)]
	if !ok {
		return "", false
	}
	return s.username, true
}

// Evict removes and closes the session registered for addr. Evicting an
// address that is not registered is a no-op and returns false.
func (r *Registry) Evict(addr net.Addr) bool {
	r.mu.Lock()
	s, ok := r.sessions[AddressKey(addr)]
	if ok {
		r.removeLocked(s)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	_ = s.Close()
	return true
}

// EvictSession removes s if its key still maps to s, and always closes s.
// It reports whether this call removed the session, so exactly one caller
// wins for each departure.
func (r *Registry) EvictSession(s *Session) bool {
	r.mu.Lock()
	current, ok := r.sessions[s.key]
	removed := ok && current == s
	if removed {
		r.removeLocked(s)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	_ = s.Close()
	if removed {
		r.log.WithField("addr", s.key).Debugf("Session evicted. Total sessions: %d", count)
	}
	return removed
}

// Snapshot returns the registered sessions in registration order. The slice
// is a copy; callers send to it without holding the registry lock.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, len(r.order))
	copy(sessions, r.order)
	return sessions
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll clears the registry and closes every session it held. It returns
// the number of sessions closed.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	sessions := r.order
	r.order = nil
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.WithError(err).Warn("Error closing session")
		}
	}
	return len(sessions)
}

func (r *Registry) removeLocked(s *Session) {
	if current, ok := r.sessions[s.key]; ok && current == s {
		delete(r.sessions, s.key)
	}
	for i, candidate := range r.order {
		if candidate == s {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
