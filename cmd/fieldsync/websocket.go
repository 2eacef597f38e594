package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/offsitehq/fieldsync/internal/events"
	"github.com/offsitehq/fieldsync/internal/logging"
	"github.com/offsitehq/fieldsync/internal/uuid"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Only allow connections from localhost
		return strings.HasPrefix(r.Host, "localhost") || strings.HasPrefix(r.Host, "127.0.0.1")
	},
}

// wsClient represents a WebSocket client connection.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// wsHub maintains active client connections and fans sync events out to
// them.
type wsHub struct {
	clients    map[string]*wsClient
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
}

// newWSHub creates a running hub.
func newWSHub() *wsHub {
	hub := &wsHub{
		clients:    make(map[string]*wsClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
	go hub.run()
	return hub
}

// run manages client connections and broadcasts.
func (h *wsHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("Event feed client connected", map[string]interface{}{
				"client_id": client.id, "total": total,
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("Event feed client disconnected", map[string]interface{}{
				"client_id": client.id, "total": total,
			})

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client send buffer is full, close connection
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Forward relays an orchestrator event to all connected clients. It is
// subscribed to the orchestrator's event hub.
func (h *wsHub) Forward(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logging.Error("Failed to marshal event", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

// HandleWS upgrades an HTTP request to a WebSocket event feed.
func (h *wsHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("WebSocket upgrade failed", err)
		return
	}

	client := &wsClient{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 64),
	}
	h.register <- client

	go client.writeLoop()
	go client.readLoop(h)
}

// writeLoop pushes queued messages to the peer.
func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// readLoop drains (and ignores) client messages so pings are handled,
// and unregisters on disconnect.
func (c *wsClient) readLoop(h *wsHub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
