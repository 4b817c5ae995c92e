package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veil-waf/phishguard/internal/db"
	"github.com/veil-waf/phishguard/internal/sse"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client serializes writes; gorilla connections allow one concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) sendJSON(data any) error {
	msg, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Manager tracks active WebSocket connections and relays live score events
// from the hub to them.
type Manager struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	hub     *sse.Hub
	store   db.Store
	logger  *slog.Logger
}

// NewManager creates a new WebSocket manager.
func NewManager(hub *sse.Hub, store db.Store, logger *slog.Logger) *Manager {
	return &Manager{
		clients: make(map[*client]struct{}),
		hub:     hub,
		store:   store,
		logger:  logger,
	}
}

// HandleWS upgrades an HTTP connection to WebSocket and registers it.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn}

	// Hydrate before registering so history arrives ahead of live events.
	m.hydrate(r.Context(), c)

	m.mu.Lock()
	m.clients[c] = struct{}{}
	m.mu.Unlock()

	defer m.remove(c)

	// Keep connection alive, read messages (we ignore them)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (m *Manager) remove(c *client) {
	m.mu.Lock()
	if _, ok := m.clients[c]; ok {
		delete(m.clients, c)
		c.conn.Close()
	}
	m.mu.Unlock()
}

func (m *Manager) hydrate(ctx context.Context, c *client) {
	if m.store == nil {
		return
	}
	if stats, err := m.store.Stats(ctx); err == nil {
		c.sendJSON(map[string]any{"type": "stats", "data": stats})
	}

	recent, err := m.store.RecentScores(ctx, db.ScoreFilter{Limit: 20})
	if err != nil {
		return
	}
	// Oldest first so clients can append.
	for i := len(recent) - 1; i >= 0; i-- {
		c.sendJSON(map[string]any{"type": "score", "data": recent[i]})
	}
}

// Broadcast sends a message to all connected WebSocket clients.
func (m *Manager) Broadcast(data any) {
	m.mu.RLock()
	clients := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		if err := c.sendJSON(data); err != nil {
			m.remove(c)
		}
	}
}

// Run relays hub score events to every connection until ctx is cancelled.
// Run it under server.RunWithRecovery.
func (m *Manager) Run(ctx context.Context) {
	ch, cancel := m.hub.Subscribe(sse.TopicAll)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.Broadcast(map[string]any{"type": ev.Type, "data": json.RawMessage(ev.Data)})
		}
	}
}

// ConnectionCount returns the number of connected clients.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}
