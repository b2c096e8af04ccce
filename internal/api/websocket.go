package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aadegtyarev/go2wb/internal/infrastructure/config"
	"github.com/aadegtyarev/go2wb/internal/infrastructure/logging"
	"github.com/aadegtyarev/go2wb/internal/wb"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypeSnapshot    = "snapshot"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event types carried by WSTypeEvent messages.
const (
	// EventControlChanged carries one recorded value (controlEvent).
	EventControlChanged = "control.changed"

	// EventControlSnapshot carries every known value matching the client's
	// filters. It is sent on connect and on request.
	EventControlSnapshot = "control.snapshot"
)

const wsSendBufferSize = 256

// allControls is the filter a new client starts with.
var allControls = wb.Path("+", "+")

// WSMessage is the envelope of every message in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload lists "device/control" filters; either part may be "+".
type WSSubscribePayload struct {
	Paths []string `json:"paths"`
}

// Hub fans control events out to WebSocket clients.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	snapshot func() map[wb.ControlPath]wb.Value
	clients  map[*WSClient]struct{}
	mu       sync.RWMutex
}

// WSClient is one connection. Its filters select which controls it hears about.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	filters []wb.ControlPath
	mu      sync.RWMutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a hub. snapshot supplies the current values for
// control.snapshot events and may be nil.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, snapshot func() map[wb.ControlPath]wb.Value) *Hub {
	if snapshot == nil {
		snapshot = func() map[wb.ControlPath]wb.Value { return nil }
	}
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		snapshot: snapshot,
		clients:  make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects all clients.
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

// Unregister removes a client. Only the call that removes it from the map
// closes its send channel.
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

// PublishControl sends ev to every client whose filters match its path.
// Clients with a full buffer miss the event.
func (h *Hub) PublishControl(ev controlEvent) {
	data, err := json.Marshal(newEvent(EventControlChanged, "", ev))
	if err != nil {
		h.logger.Error("failed to marshal control event", "error", err)
		return
	}

	path := wb.Path(ev.Device, ev.Control)
	for _, client := range h.snapshotClients() {
		if client.wants(path) {
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

// snapshotClients copies the client set so no hub lock is held while
// client locks are taken.
func (h *Hub) snapshotClients() []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

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

func newEvent(eventType, id string, payload any) WSMessage {
	return WSMessage{
		Type:      WSTypeEvent,
		ID:        id,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
}

func newWSClient(hub *Hub, conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
		filters: []wb.ControlPath{allControls},
	}
}

// handleWebSocket upgrades the connection, sends the initial snapshot and
// starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn)
	s.hub.Register(client)
	client.sendSnapshot("")

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

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
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(messageType int, data []byte) error {
		//nolint:errcheck // Best-effort deadline; write error caught by caller
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(messageType, data)
	}

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // Best-effort close message
				return
			}
			if err := write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		if paths, ok := c.paths(msg); ok {
			c.addFilters(paths)
			c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"subscribed": pathStrings(paths)})
		}
	case WSTypeUnsubscribe:
		if paths, ok := c.paths(msg); ok {
			c.removeFilters(paths)
			c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": pathStrings(paths)})
		}
	case WSTypeSnapshot:
		c.sendSnapshot(msg.ID)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// paths decodes and validates a subscribe/unsubscribe payload.
func (c *WSClient) paths(msg WSMessage) ([]wb.ControlPath, bool) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return nil, false
	}

	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil || len(sub.Paths) == 0 {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return nil, false
	}

	paths := make([]wb.ControlPath, 0, len(sub.Paths))
	for _, s := range sub.Paths {
		p, err := wb.ParsePath(s)
		if err != nil {
			c.sendError(msg.ID, err.Error())
			return nil, false
		}
		paths = append(paths, p)
	}
	return paths, true
}

func (c *WSClient) addFilters(paths []wb.ControlPath) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range paths {
		if !slices.Contains(c.filters, p) {
			c.filters = append(c.filters, p)
		}
	}
}

func (c *WSClient) removeFilters(paths []wb.ControlPath) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = slices.DeleteFunc(c.filters, func(f wb.ControlPath) bool {
		return slices.Contains(paths, f)
	})
}

// wants reports whether any filter matches path.
func (c *WSClient) wants(path wb.ControlPath) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, f := range c.filters {
		if pathMatches(f, path) {
			return true
		}
	}
	return false
}

// pathMatches applies single-level "+" wildcards per component.
func pathMatches(filter, path wb.ControlPath) bool {
	return (filter.Device == "+" || filter.Device == path.Device) &&
		(filter.Control == "+" || filter.Control == path.Control)
}

func pathStrings(paths []wb.ControlPath) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p.String()
	}
	return out
}

func (c *WSClient) sendSnapshot(id string) {
	entries := controlEntries(c.hub.snapshot(), c.wants)
	data, err := json.Marshal(newEvent(EventControlSnapshot, id, map[string]any{
		"controls": entries,
		"count":    len(entries),
	}))
	if err != nil {
		c.hub.logger.Error("failed to marshal snapshot", "error", err)
		return
	}
	c.trySend(data)
}

// trySend queues data for the client. A closed channel (client gone
// mid-broadcast) or a full buffer drops the message.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
