package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Client is one websocket connection. A client is bound to at most one seat;
// viewers watch an all-agent session without a seat.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	// guarded by hub.mu
	seatID string
	viewer bool
}

// label names the client in logs.
func (c *Client) label() string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	switch {
	case c.seatID != "":
		return c.seatID
	case c.viewer:
		return "viewer"
	}
	return "unbound"
}

func (c *Client) binding() (seatID string, viewer bool) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.seatID, c.viewer
}

// sendJSON queues v for this connection only.
func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logError("Client.sendJSON", err)
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.hub.clients[c] {
		c.hub.enqueue(c, data)
	}
}

func (c *Client) readPump() {
	defer c.hub.remove(c)
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error (%s): %v", c.label(), err)
			}
			return
		}
		LogWSMessage("IN", c.label(), string(message))
		if !c.limiter.Allow() {
			sendErrorToast(c, errRateLimited)
			continue
		}
		if c.hub.lobby != nil {
			c.hub.lobby.handleMessage(c, message)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WebSocket write error (%s): %v", c.label(), err)
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

// Hub tracks the live connections and implements EventSink for sessions.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup

	lobby     *Lobby
	rateLimit rate.Limit
	rateBurst int
}

func newHub(limit rate.Limit, burst int) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
		rateLimit:  limit,
		rateBurst:  burst,
	}
}

// start runs the hub goroutine.
func (h *Hub) start() {
	h.wg.Add(1)
	go h.run()
}

// stop signals the hub goroutine to exit and waits for it to finish
func (h *Hub) stop() {
	close(h.done)
	h.wg.Wait()
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected. Total: %d", total)
			if h.lobby != nil {
				h.lobby.clientJoined(client)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				close(client.send)
			}
			remaining := len(h.clients)
			h.mu.Unlock()
			if !ok {
				continue
			}
			log.Printf("WebSocket client disconnected. Total: %d", remaining)
			// called after releasing the lock: cancelling a session publishes nothing,
			// but the lobby may still send to other clients
			if h.lobby != nil {
				h.lobby.clientLeft(client, remaining)
			}
		}
	}
}

// remove queues a client for unregistration without blocking after stop.
func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// enqueue must be called with h.mu held. A client that cannot keep up is
// dropped rather than stalling the session goroutine.
func (h *Hub) enqueue(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		log.Printf("WebSocket send buffer full, dropping client")
		go h.remove(c)
	}
}

// Broadcast sends a public event to every connection.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logError("Hub.Broadcast", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.enqueue(c, data)
	}
	LogWSMessage("OUT", "all", string(data))
}

// SendTo sends a private event to every connection bound to seatID.
func (h *Hub) SendTo(seatID string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logError("Hub.SendTo", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.seatID == seatID {
			h.enqueue(c, data)
		}
	}
	LogWSMessage("OUT", seatID, string(data))
}

// bind attaches a connection to a seat, or makes it a viewer when seatID is empty.
func (h *Hub) bind(c *Client, seatID string, viewer bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.seatID = seatID
	c.viewer = viewer
}

// connected returns a snapshot of the live connections.
func (h *Hub) connected() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(h.rateLimit, h.rateBurst),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	DebugLog("handleWebSocket", "connection from %s registered", r.RemoteAddr)

	go client.writePump()
	go client.readPump()
}
