package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/lottery-engine/internal/training"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now (should be restricted in production)
	},
}

// Message is the envelope for every hub broadcast
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Client represents one WebSocket subscriber. A client with a zero
// StrategyID receives events for every strategy.
type Client struct {
	StrategyID uuid.UUID
	Conn       *websocket.Conn
	Send       chan []byte
	Hub        *Hub
}

// Hub maintains active WebSocket connections and fans training progress
// out to subscribers
type Hub struct {
	clients         map[*Client]bool
	strategyClients map[uuid.UUID][]*Client
	broadcast       chan []byte
	register        chan *Client
	unregister      chan *Client
	logger          *logrus.Logger
	mutex           sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:         make(map[*Client]bool),
		strategyClients: make(map[uuid.UUID][]*Client),
		broadcast:       make(chan []byte, 256),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		logger:          logger,
	}
}

// Run starts the hub and handles client registration/unregistration
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.strategyClients[client.StrategyID] = append(h.strategyClients[client.StrategyID], client)
			h.mutex.Unlock()

			h.logger.WithFields(logrus.Fields{
				"strategy_id":   client.StrategyID,
				"total_clients": len(h.clients),
			}).Info("WebSocket client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			h.evictLocked(client)
			h.mutex.Unlock()

			h.logger.WithFields(logrus.Fields{
				"strategy_id":   client.StrategyID,
				"total_clients": len(h.clients),
			}).Info("WebSocket client disconnected")

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					h.evictLocked(client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// evictLocked drops a slow client from both indexes so no later
// broadcast sends on its closed channel. Callers hold h.mutex.
func (h *Hub) evictLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	close(client.Send)
	delete(h.clients, client)

	subscribers := h.strategyClients[client.StrategyID]
	for i, c := range subscribers {
		if c == client {
			h.strategyClients[client.StrategyID] = append(subscribers[:i], subscribers[i+1:]...)
			break
		}
	}
	if len(h.strategyClients[client.StrategyID]) == 0 {
		delete(h.strategyClients, client.StrategyID)
	}
}

// HandleWebSocket upgrades a connection. An optional strategy_id query
// parameter narrows the subscription to one strategy.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	var strategyID uuid.UUID
	if raw := c.Query("strategy_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid strategy ID"})
			return
		}
		strategyID = parsed
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		StrategyID: strategyID,
		Conn:       conn,
		Send:       make(chan []byte, 256),
		Hub:        h,
	}

	client.Hub.register <- client

	go client.writePump()
	go client.readPump()
}

// TrainingProgress delivers one training lifecycle event to the
// strategy's subscribers and to the firehose subscribers
func (h *Hub) TrainingProgress(event training.ProgressEvent) {
	message := Message{Type: "training_progress", Data: event}
	h.BroadcastToStrategy(event.StrategyID, message)
	h.BroadcastToStrategy(uuid.Nil, message)
}

// BroadcastToStrategy sends a message to every subscriber of a strategy
func (h *Hub) BroadcastToStrategy(strategyID uuid.UUID, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal WebSocket message")
		return
	}

	h.mutex.Lock()
	var slow []*Client
	for _, client := range h.strategyClients[strategyID] {
		select {
		case client.Send <- data:
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		h.evictLocked(client)
	}
	h.mutex.Unlock()
}

// BroadcastToAll sends a message to all connected clients
func (h *Hub) BroadcastToAll(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal WebSocket message")
		return
	}

	h.broadcast <- data
}

// GetConnectionCount returns the total number of active connections
func (h *Hub) GetConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// readPump drains the connection until the peer goes away
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	for {
		_, _, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.WithError(err).Error("WebSocket error")
			}
			break
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.Hub.logger.WithError(err).Error("Failed to write WebSocket message")
			return
		}
	}
	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}
