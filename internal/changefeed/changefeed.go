// Package changefeed pushes the store's "data changed" signal to other open
// client instances over websocket. Clients reload their collections on each
// signal; no payload beyond the event type is carried.
package changefeed

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bakko-backend/internal/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 4 << 10
)

const sendBuffer = 16

type Envelope struct {
	Type string `json:"type"`
	AtMs int64  `json:"atMs"`
}

const eventDataChanged = "data.changed"

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

type Manager struct {
	logger *slog.Logger
	hub    *notify.Hub

	mu      sync.Mutex
	clients map[*client]struct{}

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager wires a websocket fan-out to the given change-signal hub and
// starts relaying. Call Close when done.
func NewManager(logger *slog.Logger, hub *notify.Hub) *Manager {
	m := &Manager{
		logger:  logger.With("component", "changefeed"),
		hub:     hub,
		clients: make(map[*client]struct{}),
		stop:    make(chan struct{}),
	}
	go m.relay()
	return m
}

func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(m.handle)
}

// Close stops the relay and disconnects every client.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })

	for _, c := range m.snapshotClients() {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutdown"),
			time.Now().Add(writeWait),
		)
		m.untrack(c)
		c.close()
	}
}

func (m *Manager) relay() {
	signals, cancel := m.hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-m.stop:
			return
		case <-signals:
			m.broadcastChanged()
		}
	}
}

func (m *Manager) broadcastChanged() {
	b, err := encodeJSON(Envelope{Type: eventDataChanged, AtMs: time.Now().UnixMilli()})
	if err != nil {
		m.logger.Error("changefeed marshal failed", "error", err)
		return
	}

	for _, c := range m.snapshotClients() {
		select {
		case c.send <- b:
		default:
			m.logger.Warn("changefeed slow client dropped")
			m.untrack(c)
			c.close()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (m *Manager) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("changefeed upgrade failed", "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	m.track(c)
	defer m.untrack(c)
	defer c.close()

	m.logger.Info("changefeed connected", "remoteAddr", r.RemoteAddr)

	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go m.writePump(c, r.RemoteAddr)

	// Clients never send application data; the read loop only services
	// control frames and detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			m.logger.Info("changefeed disconnected", "remoteAddr", r.RemoteAddr, "error", err)
			return
		}
	}
}

func (m *Manager) writePump(c *client, remoteAddr string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				m.logger.Info("changefeed write failed", "remoteAddr", remoteAddr, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (m *Manager) snapshotClients() []*client {
	m.mu.Lock()
	defer m.mu.Unlock()

	clients := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	return clients
}

func (m *Manager) track(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c] = struct{}{}
}

func (m *Manager) untrack(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, c)
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
