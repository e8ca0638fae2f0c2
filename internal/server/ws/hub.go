// Package ws is the live fan-out surface: every persisted tick and every
// fired alert is pushed to all connected WebSocket clients as a versioned
// JSON envelope.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quantstream/tickalert/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends protocol-level pings at this interval. Must be less
	// than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	// A client that falls this far behind is disconnected.
	sendBufferSize = 256
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// wsConn is the slice of *websocket.Conn the hub actually uses. Tests
// substitute an in-memory implementation.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// client is one registered WebSocket connection.
type client struct {
	id   string
	hub  *Hub
	conn wsConn
	send chan []byte

	closeOnce sync.Once
}

// Config bounds the hub.
type Config struct {
	// MaxConnections caps the registry; connection attempts beyond it are
	// rejected with an error envelope.
	MaxConnections int

	// ServerVersion is reported in the connection greeting.
	ServerVersion string
}

// Hub keeps the registry of connected clients and fans envelopes out to all
// of them. Broadcasts never block the pipeline: a client whose send buffer is
// full is pruned.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]bool
	closed  bool
}

// NewHub creates a Hub.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ws_hub")),
		clients: make(map[*client]bool),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("websocket hub started", slog.Int("max_connections", h.cfg.MaxConnections))
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.logger.Info("websocket hub stopped", slog.Int("disconnected", len(clients)))
	return ctx.Err()
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastTick pushes one persisted tick to every connected client.
func (h *Hub) BroadcastTick(tick domain.Tick) {
	h.broadcast(TypeMarketData, marketDataPayload(tick))
}

// BroadcastAlert pushes one fired alert to every connected client.
func (h *Hub) BroadcastAlert(rec domain.AlertRecord) {
	h.broadcast(TypeAlert, alertPayload(rec))
}

// broadcast marshals the envelope once and offers it to every client's send
// buffer. Clients that cannot keep up are pruned rather than allowed to slow
// the pipeline down.
func (h *Hub) broadcast(typ string, data any) {
	msg, err := marshalEnvelope(typ, data)
	if err != nil {
		h.logger.Error("envelope marshal failed", slog.String("type", typ), slog.String("error", err.Error()))
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("disconnecting slow client", slog.String("connection_id", c.id))
		h.drop(c)
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}
	h.admit(conn)
}

// admit registers a freshly upgraded connection, enforcing the registry
// capacity. Split from HandleWS so tests can admit in-memory connections.
func (h *Hub) admit(conn wsConn) *client {
	c := &client{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	if h.closed || (h.cfg.MaxConnections > 0 && len(h.clients) >= h.cfg.MaxConnections) {
		h.mu.Unlock()
		h.reject(conn)
		return nil
	}
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client connected",
		slog.String("connection_id", c.id),
		slog.Int("total_clients", total),
	)

	c.enqueueEnvelope(TypeConnection, ConnectionPayload{
		ConnectionID:  c.id,
		Status:        "connected",
		ServerVersion: h.cfg.ServerVersion,
	})

	go c.writePump()
	go c.readPump()
	return c
}

// reject tells a connection the registry is full, then closes it.
func (h *Hub) reject(conn wsConn) {
	h.logger.Warn("connection rejected, registry full",
		slog.Int("max_connections", h.cfg.MaxConnections),
	)
	if msg, err := marshalEnvelope(TypeError, ErrorPayload{
		Code:    "capacity_exceeded",
		Message: "connection limit reached",
	}); err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, msg)
	}
	conn.Close()
}

// drop removes a client from the registry and closes it. Safe to call for a
// client that is already gone.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	registered := h.clients[c]
	if registered {
		delete(h.clients, c)
	}
	total := len(h.clients)
	h.mu.Unlock()

	c.close()
	if registered {
		h.logger.Info("client disconnected",
			slog.String("connection_id", c.id),
			slog.Int("total_clients", total),
		)
	}
}

// close shuts the send channel exactly once, which ends the write pump and
// closes the underlying connection.
func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// enqueueEnvelope offers one envelope to this client only.
func (c *client) enqueueEnvelope(typ string, data any) {
	msg, err := marshalEnvelope(typ, data)
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// readPump consumes inbound frames. The only application message a client may
// send is a ping; anything unparseable gets an error envelope back.
func (c *client) readPump() {
	defer c.hub.drop(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close",
					slog.String("connection_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		c.handleMessage(message)
	}
}

// handleMessage answers a client ping with a pong envelope carrying the
// measured latency.
func (c *client) handleMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil || msg.MessageType != "ping" {
		c.enqueueEnvelope(TypeError, ErrorPayload{
			Code:    "bad_message",
			Message: "only ping messages are accepted",
		})
		return
	}

	clientMs := msg.ClientTime.UnixMilli()
	serverTime := time.Now().UnixMilli()
	latency := serverTime - clientMs
	if clientMs == 0 || latency < 0 {
		latency = 0
	}
	c.enqueueEnvelope(TypePong, PongPayload{
		ClientTime: clientMs,
		ServerTime: serverTime,
		LatencyMs:  latency,
		Sequence:   msg.Sequence,
	})
}

// writePump pumps envelopes from the hub to the connection and keeps the
// protocol-level ping/pong alive. A failed write prunes the client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.drop(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.drop(c)
				return
			}
		}
	}
}
