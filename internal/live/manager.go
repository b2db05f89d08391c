// Package live streams rep-counter updates over WebSocket for webcam and
// camera sessions.
package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Closer is the part of a websocket connection the manager needs.
type Closer interface {
	Close(code websocket.StatusCode, reason string) error
}

// SessionManager tracks the active connection per live session id. A new
// connection for a session replaces the old one.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]Closer
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]Closer),
	}
}

// GetActive returns the active connection for a session.
func (m *SessionManager) GetActive(sessionID string) Closer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[sessionID]
}

// Count returns the number of active sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Register adds a connection, closing any previous one for the session.
func (m *SessionManager) Register(sessionID string, conn Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.active[sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[sessionID] = conn
	slog.Info("Live session registered", "session_id", sessionID)
}

// Unregister removes conn if it is still the active connection.
func (m *SessionManager) Unregister(sessionID string, conn Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.active[sessionID]; exists && current == conn {
		delete(m.active, sessionID)
		slog.Info("Live session unregistered", "session_id", sessionID)
	}
}

// CloseAll terminates every active session, used on shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sid, conn := range m.active {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		slog.Info("Live session closed", "session_id", sid)
	}
	clear(m.active)
}
