// Package observer runs a WebSocket endpoint that streams a live feed
// of fleet-membership and routing events for operational dashboards. It
// is a read-only observability surface: nothing published here is ever
// consumed back into routing decisions.
package observer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/satcore/internal/broker"
)

// Hub tracks connected dashboard clients and fans fleet events out to
// each of them. A slow client that can't keep up with its send buffer
// is disconnected rather than allowed to block delivery to the rest.
type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	mu      sync.Mutex
	clients map[*client]struct{}

	sendBuf int
}

// NewHub constructs a hub. Call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client, 64),
		unregister: make(chan *client, 64),
		clients:    make(map[*client]struct{}),
		sendBuf:    32,
	}
}

// Run processes hub events until ctx is cancelled, then disconnects
// every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("observer: client connected", "remote_addr", c.remoteAddr, "clients", n)
		case c := <-h.unregister:
			h.remove(c, "unregister")
		case msg := <-h.broadcast:
			var slow []*client
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()
			for _, c := range slow {
				h.remove(c, "slow_client")
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close()
		closeQuietly(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) remove(c *client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		_ = c.conn.Close()
		closeQuietly(c.send)
		h.logger.Info("observer: client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

func closeQuietly(ch chan []byte) {
	defer func() { _ = recover() }()
	close(ch)
}

// OnFleetEvent serializes a fleet event and enqueues it for broadcast.
// Intended to be wired as broker.Hooks.OnFleetEvent. Never blocks: a
// full broadcast queue drops the event rather than slow the caller.
func (h *Hub) OnFleetEvent(ev broker.FleetEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("observer: marshal fleet event failed", "error", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("observer: broadcast queue full, dropping event")
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request to a WebSocket and registers the
// resulting client with the hub. Register this on a mux at the
// "/fleet/stream" path.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("observer: upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.sendBuf), remoteAddr: r.RemoteAddr, logger: h.logger}
	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

type client struct {
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	logger     *slog.Logger
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// writePump writes queued fleet events to the client's socket. Not tied
// to the HTTP request context: net/http cancels that context as soon as
// the handler returns, which would end the connection immediately.
// Lifetime is instead owned by the hub (unregister) and by write
// errors observed here.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
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

// readPump only exists to detect client disconnects and service pong
// frames; the dashboard feed is one-directional.
func (c *client) readPump(h *Hub) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.unregister <- c
			return
		}
	}
}
