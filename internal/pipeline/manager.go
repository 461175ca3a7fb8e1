package pipeline

import (
	"sync"
	"time"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
)

// Manager keeps the live sessions of a server process
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewManager creates a session registry. Sessions idle for longer than ttl
// are removed by Sweep.
func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

// Put registers a staged session
func (m *Manager) Put(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID()] = sess
}

// Get returns the session with id if it belongs to userID
func (m *Manager) Get(id, userID string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()

	// a session owned by someone else is reported as missing
	if !ok || sess.UserID() != userID {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

// Delete removes a session
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep drops sessions whose last change is older than the TTL and returns
// how many were removed. Abandoned staged sessions are discarded.
func (m *Manager) Sweep(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, sess := range m.sessions {
		if now.Sub(sess.UpdatedAt()) < m.ttl {
			continue
		}
		if !IsTerminalState(sess.State()) {
			_ = sess.Discard()
		}
		delete(m.sessions, id)
		removed++
	}
	return removed
}
