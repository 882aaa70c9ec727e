package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agrisense/agrisense-core/internal/alert"
	"github.com/agrisense/agrisense-core/internal/broker"
	"github.com/agrisense/agrisense-core/internal/infrastructure/config"
	"github.com/agrisense/agrisense-core/internal/infrastructure/logging"
	"github.com/agrisense/agrisense-core/internal/ingest"
)

// WebSocket message types. Clients send joinRoom/leaveRoom/ping; the
// server replies with the matching ack and pushes event messages.
const (
	WSTypeJoinRoom   = "joinRoom"
	WSTypeLeaveRoom  = "leaveRoom"
	WSTypeJoinedRoom = "joinedRoom"
	WSTypeLeftRoom   = "leftRoom"
	WSTypePing       = "ping"
	WSTypePong       = "pong"
	WSTypeEvent      = "event"
	WSTypeError      = "error"
)

// Event names pushed by the server.
const (
	WSEventReading      = "reading"
	WSEventBrokerStatus = "brokerStatus"
	WSEventSensorStatus = "sensorStatus"
	WSEventAlert        = "alert"
)

// wsSendBufferSize is the per-client outbound message buffer size.
const wsSendBufferSize = 256

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Room      string `json:"room,omitempty"`
	Event     string `json:"event,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Hub manages WebSocket connections and broadcasts live events.
//
// Every event is delivered to all connected clients; reading events are
// additionally delivered into the room named after the source device,
// so a client watching one sensor can filter on room membership.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	rooms map[string]struct{}
	mu    sync.RWMutex
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run starts the hub's main loop. It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// EmitReading pushes a reading event to all clients, plus a room-scoped
// copy to clients that joined the device's room.
func (h *Hub) EmitReading(ev ingest.ReadingEvent) {
	h.broadcast(WSEventReading, "", ev)
	h.broadcast(WSEventReading, ev.Device.ID, ev)
}

// EmitSensorStatus pushes a device presence transition to all clients.
func (h *Hub) EmitSensorStatus(ev ingest.SensorStatusEvent) {
	h.broadcast(WSEventSensorStatus, "", ev)
}

// EmitBrokerStatus pushes a broker connectivity change to all clients.
func (h *Hub) EmitBrokerStatus(st broker.Status) {
	h.broadcast(WSEventBrokerStatus, "", st)
}

// EmitAlert pushes a threshold alert to all clients.
func (h *Hub) EmitAlert(a alert.Alert) {
	h.broadcast(WSEventAlert, "", a)
}

// broadcast sends an event to clients. An empty room reaches every
// client; otherwise only room members receive it.
// Lock ordering: hub lock is acquired first, then released before
// per-client room checks, so hub and client locks are never held together.
func (h *Hub) broadcast(event, room string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		Event:     event,
		Room:      room,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	// Snapshot client list under hub lock, then release before sending
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if room == "" || client.inRoom(room) {
			client.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:   s.hub,
		conn:  conn,
		send:  make(chan []byte, wsSendBufferSize),
		rooms: make(map[string]struct{}),
	}

	s.hub.Register(client)

	// Start read/write pumps
	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeJoinRoom:
		c.handleJoinRoom(msg)
	case WSTypeLeaveRoom:
		c.handleLeaveRoom(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, "", nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleJoinRoom adds the client to a room and acknowledges it.
func (c *WSClient) handleJoinRoom(msg WSMessage) {
	if msg.Room == "" {
		c.sendError(msg.ID, "room is required")
		return
	}

	c.mu.Lock()
	c.rooms[msg.Room] = struct{}{}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client joined room", "room", msg.Room)
	c.sendResponse(msg.ID, WSTypeJoinedRoom, msg.Room, nil)
}

// handleLeaveRoom removes the client from a room and acknowledges it.
// Leaving a room the client never joined still acks.
func (c *WSClient) handleLeaveRoom(msg WSMessage) {
	if msg.Room == "" {
		c.sendError(msg.ID, "room is required")
		return
	}

	c.mu.Lock()
	delete(c.rooms, msg.Room)
	c.mu.Unlock()

	c.sendResponse(msg.ID, WSTypeLeftRoom, msg.Room, nil)
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// inRoom checks if the client has joined a room.
func (c *WSClient) inRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType, room string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Room:      room,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, "", map[string]string{"message": message})
}
