package websocket

import (
	"sync"

	"transflow/pkg/logger"
)

// Manager tracks one live connection per subscription key
type Manager struct {
	connections map[string]*Connection // key -> connection
	mu          sync.RWMutex
	log         logger.Logger
}

// NewManager creates a new WebSocket manager
func NewManager(log logger.Logger) *Manager {
	return &Manager{
		connections: make(map[string]*Connection),
		log:         log,
	}
}

// AddConnection registers conn under its key, replacing any previous one
func (m *Manager) AddConnection(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := conn.Key()
	if existing, ok := m.connections[key]; ok && existing != conn {
		existing.Close()
		m.log.WithFields(logger.LogFields{
			"subscriber": key,
		}).Info("websocket_replaced", "Replacing existing connection")
	}

	m.connections[key] = conn
	m.log.WithFields(logger.LogFields{
		"subscriber": key,
		"total":      len(m.connections),
	}).Info("websocket_connected", "New connection added")
}

// RemoveConnection forgets conn. A newer connection registered under the
// same key is left alone.
func (m *Manager) RemoveConnection(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := conn.Key()
	if current, ok := m.connections[key]; ok && current == conn {
		delete(m.connections, key)
		m.log.WithFields(logger.LogFields{
			"subscriber": key,
			"total":      len(m.connections),
		}).Info("websocket_disconnected", "Connection removed")
	}
	conn.Close()
}

// Send delivers message to the subscriber of key. Nobody listening is not
// an error.
func (m *Manager) Send(key string, message interface{}) error {
	m.mu.RLock()
	conn, ok := m.connections[key]
	m.mu.RUnlock()

	if !ok {
		m.log.WithFields(logger.LogFields{
			"subscriber": key,
		}).Debug("websocket_not_connected", "Subscriber not connected")
		return nil
	}

	if err := conn.WriteJSON(message); err != nil {
		m.log.WithFields(logger.LogFields{
			"subscriber": key,
		}).Error("websocket_send_failed", err)
		if err == ErrConnectionClosed {
			m.RemoveConnection(conn)
		}
		return err
	}

	return nil
}

// Connected reports whether key has a live subscriber
func (m *Manager) Connected(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.connections[key]
	return ok
}

// Count returns the number of active connections
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// CloseAll drops every subscriber, used on shutdown
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for key, conn := range m.connections {
		conns = append(conns, conn)
		delete(m.connections, key)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
