// Package api provides the HTTP API handlers and the WebSocket hub
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Spatial-NVR/bagwatch/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeAlert          MessageType = notify.MessageAlert
	MessageTypeAlertCancelled MessageType = notify.MessageAlertCancelled
	MessageTypeAudioCue       MessageType = "audio_cue"
	MessageTypeTracks         MessageType = "tracks"
	MessageTypeSettings       MessageType = "settings"
	MessageTypePing           MessageType = "ping"
	MessageTypePong           MessageType = "pong"
	MessageTypeSubscribe      MessageType = "subscribe"
	MessageTypeUnsubscribe    MessageType = "unsubscribe"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Client represents a WebSocket client
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]bool // camera IDs, "*" for all
}

func (c *Client) subscribed(cameraID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions["*"] || c.subscriptions[cameraID]
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "websocket-hub"),
	}
}

// Run services the hub until ctx is cancelled, then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client connected", "total_clients", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client disconnected", "total_clients", n)

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.logger.Warn("Client buffer full, dropping message")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	h.BroadcastRaw(msg)
}

// BroadcastToCamera sends a message to clients subscribed to a specific camera
func (h *Hub) BroadcastToCamera(cameraID string, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	h.BroadcastRawToCamera(cameraID, msg)
}

// BroadcastRaw sends an already shaped message to all clients
func (h *Hub) BroadcastRaw(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("Broadcast channel full, dropping message")
	}
}

// BroadcastRawToCamera sends an already shaped message to clients of one camera
func (h *Hub) BroadcastRawToCamera(cameraID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal camera message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.subscribed(cameraID) {
			continue
		}
		select {
		case client.send <- data:
		default:
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HubBroadcaster adapts Hub to the broadcaster interfaces of the notify
// and audio packages
type HubBroadcaster struct {
	hub *Hub
}

// NewHubBroadcaster creates a new HubBroadcaster
func NewHubBroadcaster(hub *Hub) *HubBroadcaster {
	return &HubBroadcaster{hub: hub}
}

// Broadcast sends a message to all clients
func (b *HubBroadcaster) Broadcast(msg interface{}) {
	b.hub.BroadcastRaw(msg)
}

// BroadcastToCamera sends a message to clients subscribed to a specific camera
func (b *HubBroadcaster) BroadcastToCamera(cameraID string, msg interface{}) {
	b.hub.BroadcastRawToCamera(cameraID, msg)
}

// HandleWebSocket handles WebSocket connections
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: map[string]bool{"*": true},
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", "error", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// one JSON document per frame so browsers can JSON.parse each message
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	switch msg.Type {
	case MessageTypePing:
		response := Message{Type: MessageTypePong, Timestamp: time.Now()}
		if data, err := json.Marshal(response); err == nil {
			select {
			case c.send <- data:
			default:
			}
		}

	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		cameras, ok := msg.Data.([]interface{})
		if !ok {
			return
		}
		c.mu.Lock()
		for _, cam := range cameras {
			cameraID, ok := cam.(string)
			if !ok {
				continue
			}
			if msg.Type == MessageTypeSubscribe {
				c.subscriptions[cameraID] = true
			} else {
				delete(c.subscriptions, cameraID)
			}
		}
		c.mu.Unlock()
	}
}

// TracksMessage carries a camera's live bag tracks for the overlay
func TracksMessage(cameraID string, frame int64, tracks interface{}) Message {
	return Message{
		Type: MessageTypeTracks,
		Data: map[string]interface{}{
			"camera_id":    cameraID,
			"frame_number": frame,
			"tracks":       tracks,
		},
	}
}

// SettingsMessage announces new detection thresholds
func SettingsMessage(settings interface{}) Message {
	return Message{
		Type: MessageTypeSettings,
		Data: settings,
	}
}
