// Package terminal owns the lifecycle of browser terminals: the per-user
// registry of surfaces bound to remote sessions, the containers they are
// mounted into, and the websocket handler that drives them.
package terminal

import (
	"log/slog"
	"sync"
)

// ViewerSet tracks the viewer each user currently has open per connection.
// A terminal can be mounted in one viewer at a time, so registering a new
// viewer for the same connection retires the previous one.
type ViewerSet struct {
	mu     sync.RWMutex
	active map[string]map[string]*Viewer
}

// NewViewerSet creates an empty set.
func NewViewerSet() *ViewerSet {
	return &ViewerSet{
		active: make(map[string]map[string]*Viewer),
	}
}

// Get returns the active viewer for a user and connection.
func (m *ViewerSet) Get(userID, connectionID string) *Viewer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if viewers, ok := m.active[userID]; ok {
		return viewers[connectionID]
	}
	return nil
}

// Register records v as the viewer for userID/connectionID.
func (m *ViewerSet) Register(userID, connectionID string, v *Viewer) {
	m.mu.Lock()
	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*Viewer)
	}
	existing := m.active[userID][connectionID]
	m.active[userID][connectionID] = v
	m.mu.Unlock()

	if existing != nil && existing != v {
		existing.SendJSON(map[string]string{"type": "replaced"})
	}
	slog.Debug("Terminal viewer registered", "user_id", userID, "connection_id", connectionID, "viewer", v.ID())
}

// Unregister removes v if it is still the active viewer.
func (m *ViewerSet) Unregister(userID, connectionID string, v *Viewer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if viewers, ok := m.active[userID]; ok {
		if current, exists := viewers[connectionID]; exists && current == v {
			delete(viewers, connectionID)
			if len(viewers) == 0 {
				delete(m.active, userID)
			}
			slog.Debug("Terminal viewer unregistered", "user_id", userID, "connection_id", connectionID)
		}
	}
}

// CloseUser closes every viewer a user has open.
func (m *ViewerSet) CloseUser(userID string) {
	m.mu.Lock()
	viewers := m.active[userID]
	delete(m.active, userID)
	m.mu.Unlock()

	for id, v := range viewers {
		v.SendJSON(map[string]string{"type": "closed"})
		_ = v.Close()
		slog.Info("Terminal viewer closed", "user_id", userID, "connection_id", id)
	}
}

// Count returns the number of viewers a user has open.
func (m *ViewerSet) Count(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[userID])
}
