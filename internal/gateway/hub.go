package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Tarun-Chowdary/CampusWhisper/internal/events"
)

// EventHandler receives inbound traffic from the hub. The session engine
// implements it.
type EventHandler interface {
	Dispatch(connID string, event events.Event)
	Disconnect(connID string)
}

// Hub owns every live WebSocket connection, keyed by its opaque connection
// handle. Room membership is the engine's business; the hub only knows how
// to deliver an event to one connection.
type Hub struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  EventHandler

	sendCh chan outboundMessage
}

// Connection represents a WebSocket connection to a client.
type Connection struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
	hub    *Hub

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type outboundMessage struct {
	connID string
	event  events.Event
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewHub creates a connection hub. Bind must be called with the inbound
// handler before the hub accepts connections; the hub is the engine's Sender
// and the engine is the hub's handler, so one of the two is wired late.
func NewHub(config ConnectionConfig) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		sendCh: make(chan outboundMessage, 1000),
	}
}

// Bind attaches the inbound event handler.
func (h *Hub) Bind(handler EventHandler) {
	h.handler = handler
}

// Start drains the outbound queue until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("gateway hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("gateway hub shutting down")
			return
		case msg := <-h.sendCh:
			h.deliver(msg)
		}
	}
}

// Send queues an event for one connection. It implements engine.Sender and
// never blocks the caller.
func (h *Hub) Send(connID string, event events.Event) {
	select {
	case h.sendCh <- outboundMessage{connID: connID, event: event}:
	default:
		log.Warn().Str("conn_id", connID).Msg("outbound queue full, dropping event")
	}
}

func (h *Hub) deliver(msg outboundMessage) {
	h.mu.RLock()
	conn, ok := h.connections[msg.connID]
	h.mu.RUnlock()
	if !ok {
		// Connection went away; the engine already got the disconnect.
		return
	}

	data, err := json.Marshal(msg.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal outbound event")
		return
	}

	select {
	case conn.Send <- data:
	default:
		// Slow or dead consumer.
		log.Warn().
			Str("conn_id", conn.ID).
			Str("user_id", conn.UserID).
			Msg("connection send buffer full, closing connection")
		h.unregister(conn)
		conn.Conn.Close()
	}
}

// Upgrade turns an HTTP request into a managed WebSocket connection.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, userID string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	conn := &Connection{
		ID:          uuid.NewString(),
		UserID:      userID,
		Conn:        ws,
		Send:        make(chan []byte, 256),
		hub:         h,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	h.mu.Lock()
	h.connections[conn.ID] = conn
	h.mu.Unlock()

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("conn_id", conn.ID).
		Str("user_id", userID).
		Msg("WebSocket connection established")
	return nil
}

// unregister removes a connection and tells the engine it is gone. Safe to
// call twice for the same connection.
func (h *Hub) unregister(conn *Connection) {
	h.mu.Lock()
	_, exists := h.connections[conn.ID]
	if exists {
		delete(h.connections, conn.ID)
		close(conn.Send)
	}
	h.mu.Unlock()

	if exists {
		h.handler.Disconnect(conn.ID)
		log.Info().
			Str("conn_id", conn.ID).
			Str("user_id", conn.UserID).
			Msg("connection unregistered")
	}
}

// Stats reports connection counts for the stats endpoint.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"total_connections": len(h.connections),
	}
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("conn_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("conn_id", c.ID).Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump parses inbound frames and hands them to the engine.
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("conn_id", c.ID).Msg("unexpected WebSocket close error")
			}
			break
		}

		evt, err := events.Parse(message)
		if err != nil {
			log.Debug().Str("conn_id", c.ID).Msg("dropping unparseable frame")
		} else {
			c.hub.handler.Dispatch(c.ID, evt)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}
