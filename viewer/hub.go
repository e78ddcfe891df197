// Package viewer streams node records to browsers over websockets while an
// exploration runs.
package viewer

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"

	"github.com/brensch/panotree/render"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

// Message is what clients receive. Type is "node" or "reset".
type Message struct {
	Type string             `json:"type"`
	Node *render.NodeRecord `json:"node,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans node records out to every connected client. A client that
// connects late first receives every record seen so far. Hub implements
// explorer.NodeSink.
type Hub struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.Mutex
	records []render.NodeRecord
	history [][]byte
	clients map[*client]struct{}
	closed  bool
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1 << 16,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) RecordNode(_ context.Context, rec render.NodeRecord) error {
	msg, err := json.Marshal(Message{Type: "node", Node: &rec})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	h.history = append(h.history, msg)
	h.broadcastLocked(msg)
	return nil
}

// Reset forgets the history and tells connected clients to clear.
func (h *Hub) Reset() {
	msg, _ := json.Marshal(Message{Type: "reset"})

	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = nil
	h.history = nil
	h.broadcastLocked(msg)
}

// broadcastLocked drops clients that cannot keep up.
func (h *Hub) broadcastLocked(msg []byte) {
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("dropping slow viewer client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Records returns a copy of every record seen since the last reset.
func (h *Hub) Records() []render.NodeRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]render.NodeRecord, len(h.records))
	copy(out, h.records)
	return out
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "viewer closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	c := &client{conn: conn, send: make(chan []byte, len(h.history)+sendBuffer)}
	for _, msg := range h.history {
		c.send <- msg
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("viewer client connected")
	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump discards client messages and notices disconnects.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Msg("viewer client read failed")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
