// Package broadcast implements the websocket hub that fans out engine
// state snapshots to connected observers.
package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kilnforge/kiln-controller/pkg/engine"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Client is one connected websocket observer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains and discards client frames; observers never send
// commands over the websocket, but the read loop still has to run to
// surface close frames and keep the connection's pong deadline fresh.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Hub fans out StateSnapshot broadcasts from a FiringEngine to every
// connected websocket client. Slow clients are dropped rather than
// allowed to back-pressure the control loop.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	clients    map[*Client]bool

	log zerolog.Logger

	mu      sync.RWMutex
	lastMsg []byte
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		log:        log.With().Str("component", "broadcast").Logger(),
	}
}

// Run consumes snapshots off the engine and fans them out until the
// snapshots channel closes or stop fires.
func (h *Hub) Run(snapshots <-chan engine.StateSnapshot, stop <-chan struct{}) {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.mu.RLock()
			last := h.lastMsg
			h.mu.RUnlock()
			if last != nil {
				select {
				case client.send <- last:
				default:
				}
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				h.log.Error().Err(err).Msg("failed to marshal snapshot for broadcast")
				continue
			}
			h.mu.Lock()
			h.lastMsg = payload
			h.mu.Unlock()
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}

		case <-stop:
			for client := range h.clients {
				close(client.send)
			}
			return
		}
	}
}

// ServeHTTP upgrades the request to a websocket and registers the new
// client with the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 16)}
	h.register <- client
	go client.writePump()
	go client.readPump()
}
