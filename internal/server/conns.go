package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ConnTracker tracks open WebSocket connections so they can be closed on
// shutdown. Hijacked connections are not seen by http.Server.Shutdown.
type ConnTracker struct {
	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// NewConnTracker creates a new ConnTracker.
func NewConnTracker() *ConnTracker {
	return &ConnTracker{
		conns: make(map[string]*websocket.Conn),
	}
}

// Add registers conn and returns the ID to remove it with.
func (t *ConnTracker) Add(conn *websocket.Conn) string {
	id := uuid.New().String()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[id] = conn
	return id
}

// Remove forgets a connection. It does not close it.
func (t *ConnTracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, id)
}

// Len returns the number of open connections.
func (t *ConnTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// CloseAll sends a going-away close frame to every connection and closes it.
func (t *ConnTracker) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for id, conn := range t.conns {
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		delete(t.conns, id)
	}
}
