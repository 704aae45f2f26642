package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS policy is enforced on the REST routes; the stream carries
		// progress counters only.
		return true
	},
}

// wsMessage is the envelope for everything sent over the progress stream.
type wsMessage struct {
	Type string      `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans run progress out to all connected WebSocket clients.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	metrics    *Metrics
	logger     zerolog.Logger
}

// NewHub creates the progress hub.
func NewHub(metrics *Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		metrics:    metrics,
		logger:     logger.With().Str("component", "ws_hub").Logger(),
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.metrics.WSClients.Inc()

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.metrics.WSClients.Dec()
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client cannot keep up, drop it.
					delete(h.clients, client)
					close(client.send)
					h.metrics.WSClients.Dec()
				}
			}

		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*wsClient]bool)
			return
		}
	}
}

// Broadcast sends one typed message to every client. A full broadcast
// channel drops the message rather than blocking the run.
func (h *Hub) Broadcast(msgType string, data interface{}) {
	payload, err := json.Marshal(wsMessage{Type: msgType, Time: time.Now(), Data: data})
	if err != nil {
		h.logger.Warn().Err(err).Str("type", msgType).Msg("Failed to marshal ws message")
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn().Str("type", msgType).Msg("Broadcast channel full, dropping message")
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so pings are answered; clients never send
// anything we act on.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// handleWebSocket upgrades the connection and subscribes it to run progress.
// GET /ws?token=...
func (s *Server) handleWebSocket(c *gin.Context) {
	if s.tokens != nil {
		if _, err := s.tokens.Validate(c.Query("token")); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": true, "message": err.Error()})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
		hub:  s.hub,
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()

	if data, err := json.Marshal(wsMessage{Type: "connected", Time: time.Now()}); err == nil {
		select {
		case client.send <- data:
		default:
		}
	}
}
