package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// hubBufferSize bounds each client's outbound queue, the same constant the
// teacher's Hub uses for its own broadcast/send channels.
const hubBufferSize = 256

// Client is one connected admin dashboard WebSocket, mirroring the
// teacher's server.Client.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans every payload handed to BroadcastJSON out to every connected
// admin dashboard, the way the teacher's Hub fans state updates out to
// every browser tab. Server.BroadcastNotification is its only feed, and
// cmd/acp-server does not call it, so as wired there the stream carries
// no events.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
}

// NewHub creates an empty Hub; call Run in a goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, hubBufferSize),
	}
}

// Run drives the hub's register/unregister/broadcast loop until the
// process exits; there is no cancellation because the hub's lifetime is
// the server's lifetime.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastJSON marshals payload and fans it out to every connected
// client; a marshal failure is dropped silently since there is no caller
// to report it to.
func (h *Hub) BroadcastJSON(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.broadcast <- data
}

// upgrader's CheckOrigin allows same-origin (no Origin header, e.g. curl/wscat)
// and localhost connections only; a deployment fronting this with a real
// admin dashboard on another origin configures its own reverse proxy
// rather than widening this check.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := u.Hostname()
		return host == "localhost" || host == "127.0.0.1" || host == "::1"
	},
}

// handleNotificationStream upgrades GET /admin/notifications/stream to a
// WebSocket and registers the connection with the hub.
func (s *Server) handleNotificationStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &Client{hub: s.hub, conn: conn, send: make(chan []byte, hubBufferSize)}
	s.hub.register <- c
	go c.writePump()
	go c.readPump()
}

// readPump only exists to notice the client disconnecting; the admin
// dashboard never sends data over this connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
