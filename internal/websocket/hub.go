package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Viewers only send pings.
	maxMessageSize = 4 * 1024

	sendBufferSize      = 256
	broadcastBufferSize = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// viewers are authenticated by token, not origin
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

var _ repositories.StatusSink = (*Hub)(nil)

// Hub maintains the set of connected viewers and broadcasts caption and
// status updates to all of them.
type Hub struct {
	// Registered clients, keyed by connection id.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Encoded messages for every client.
	broadcast chan []byte

	// Closed when Run returns.
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, broadcastBufferSize),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop. It disconnects every client and returns
// when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Viewer registered",
				zap.String("clientID", client.id),
				zap.String("viewerID", client.viewerID))

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// a viewer that cannot keep up is dropped
					delete(h.clients, id)
					close(client.send)
					h.logger.Warn("Dropping slow viewer", zap.String("clientID", id))
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Hub stopped")
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		close(client.send)
	}
	h.mu.Unlock()
	h.logger.Info("Viewer unregistered", zap.String("clientID", client.id))
}

// Done is closed once Run has returned
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// ClientCount returns the number of connected viewers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast encodes v and queues it for every viewer. Messages are dropped
// when the hub is stopped or its queue is full.
func (h *Hub) Broadcast(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode broadcast", zap.Error(err))
		return
	}

	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("Broadcast queue full, message dropped")
	}
}

// BroadcastCaption sends a caption line to every viewer
func (h *Hub) BroadcastCaption(sessionID string, entry entities.CaptionEntry) {
	h.Broadcast(NewCaptionMessage(sessionID, entry))
}

// BroadcastRecording sends a session state change to every viewer
func (h *Hub) BroadcastRecording(session *entities.Session, err error) {
	h.Broadcast(NewRecordingMessage(session, err))
}

// BroadcastAssist sends an assistant reply to every viewer
func (h *Hub) BroadcastAssist(sessionID string, entry entities.AILogEntry) {
	h.Broadcast(NewAssistMessage(sessionID, entry))
}

// EmitStatus sends a transcription connection state to every viewer
func (h *Hub) EmitStatus(status string) {
	h.Broadcast(NewStatusMessage(status))
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Closed by the hub.
	send chan []byte

	id       string
	viewerID string

	logger *zap.Logger
}

// ServeViewer upgrades an authenticated request and attaches the viewer to the hub
func ServeViewer(hub *Hub, c echo.Context, viewerID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		id:       uuid.NewString(),
		viewerID: viewerID,
		logger:   logger.With(zap.String("viewerID", viewerID)),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump reads viewer pings until the connection fails.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn("Received unexpected message type", zap.Int("type", messageType))
			continue
		}
		c.processMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
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

func (c *Client) processMessage(message []byte) {
	ping, err := ParseViewerMessage(message)
	if err != nil {
		c.logger.Warn("Invalid viewer message", zap.Error(err))
		c.reply(CreateErrorMessage("invalid_message", err.Error()))
		return
	}
	c.reply(CreatePongMessage(ping.Data))
}

// reply queues a message for this client only. The hub may have closed the
// send channel already, in which case the reply is dropped.
func (c *Client) reply(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode reply", zap.Error(err))
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("Viewer send buffer full, reply dropped")
	}
}
