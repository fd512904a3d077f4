package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/codeloft/codeloft/internal/slogging"
	"github.com/codeloft/codeloft/internal/uuidgen"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second
	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 30 * time.Second
)

// GatewayConfig carries the connection-level tunables
type GatewayConfig struct {
	// SendQueueSize is the per-connection outbound queue capacity; a
	// client whose queue overflows is disconnected rather than allowed
	// to stall the room
	SendQueueSize int
	// ReadLimitBytes caps inbound message size
	ReadLimitBytes int64
}

// WebSocketHub terminates client sockets for the collaboration endpoint.
// It owns the connection-handle to (user, active file set) mapping;
// session state itself lives in the registry and is only mutated through
// the broadcaster's serialized entry points.
type WebSocketHub struct {
	broadcaster *Broadcaster
	router      *MessageRouter
	config      GatewayConfig

	mu      sync.RWMutex
	clients map[string]*WebSocketClient // keyed by connection ID

	upgrader websocket.Upgrader
}

// NewWebSocketHub creates a hub dispatching into the given broadcaster
func NewWebSocketHub(broadcaster *Broadcaster, config GatewayConfig) *WebSocketHub {
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = 256
	}
	if config.ReadLimitBytes <= 0 {
		config.ReadLimitBytes = 64 * 1024
	}
	return &WebSocketHub{
		broadcaster: broadcaster,
		router:      NewMessageRouter(),
		config:      config,
		clients:     make(map[string]*WebSocketClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Allow all origins for development; restrict in production
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// WebSocketClient represents one connected client
type WebSocketClient struct {
	hub  *WebSocketHub
	conn *websocket.Conn

	connectionID string
	userID       string
	username     string

	// Buffered channel of outbound messages
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

// ConnectionID returns the server-assigned connection identifier
func (c *WebSocketClient) ConnectionID() string { return c.connectionID }

// UserID returns the authenticated user identifier
func (c *WebSocketClient) UserID() string { return c.userID }

// Username returns the authenticated display name
func (c *WebSocketClient) Username() string { return c.username }

// Enqueue serializes msg onto the client's outbound queue without
// blocking. When the queue is full the client is disconnected: a slow
// consumer must never stall broadcasts to the rest of the room.
func (c *WebSocketClient) Enqueue(msg AsyncMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		slogging.Get().Error("failed to marshal outbound %s message: %v", msg.GetMessageType(), err)
		return false
	}

	select {
	case <-c.done:
		return false
	case c.send <- data:
		return true
	default:
		slogging.Get().Warn("outbound queue overflow, disconnecting conn %s (user %s)", c.connectionID, c.userID)
		slowClientDisconnectsTotal.Inc()
		c.beginClose()
		return false
	}
}

// beginClose initiates shutdown of the connection exactly once. The read
// pump observes the closed socket and runs disconnect cleanup.
func (c *WebSocketClient) beginClose() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// HandleWS upgrades an authenticated HTTP request to a collaboration socket
func (h *WebSocketHub) HandleWS(c *gin.Context) {
	logger := slogging.Get()

	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "user not authenticated"})
		return
	}
	username := c.GetString("user_name")
	if username == "" {
		username = userID
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("failed to upgrade connection: %v", err)
		return
	}

	client := &WebSocketClient{
		hub:          h,
		conn:         conn,
		connectionID: uuidgen.MustNewV4().String(),
		userID:       userID,
		username:     username,
		send:         make(chan []byte, h.config.SendQueueSize),
		done:         make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[client.connectionID] = client
	h.mu.Unlock()
	connectionsActiveGauge.Inc()

	logger.Debug("collaboration socket opened - conn_id=%s user_id=%s", client.connectionID, userID)

	go client.writePump()
	go client.readPump()
}

// unregister removes the client and synchronously cleans up every session
// membership it held. Idempotent: a second call finds nothing to remove.
func (h *WebSocketHub) unregister(client *WebSocketClient) {
	h.mu.Lock()
	_, present := h.clients[client.connectionID]
	delete(h.clients, client.connectionID)
	h.mu.Unlock()

	if !present {
		return
	}

	connectionsActiveGauge.Dec()

	// Membership entries must not survive past this cleanup pass; other
	// clients would see phantom editors
	h.broadcaster.HandleDisconnect(client)
	client.beginClose()

	slogging.Get().Debug("collaboration socket closed - conn_id=%s user_id=%s", client.connectionID, client.userID)
}

// ClientCount returns the number of open connections
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown disconnects every client
func (h *WebSocketHub) Shutdown() {
	h.mu.Lock()
	clients := make([]*WebSocketClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

// readPump pumps messages from the socket into the message router. One
// goroutine per connection; network reads suspend only this worker.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.unregister(c)
	}()

	c.conn.SetReadLimit(c.hub.config.ReadLimitBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slogging.Get().Debug("websocket read error on conn %s: %v", c.connectionID, err)
			}
			return
		}

		_ = c.hub.router.RouteMessage(context.Background(), c.hub.broadcaster, c, message)
	}
}

// writePump pumps queued messages to the socket and keeps the connection
// alive with pings. Per-file locks are never held here; broadcasts only
// enqueue, so a blocked send stalls just this client.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
