package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rawblock/entropy-scorer/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Linked views are served from the local dashboard
	},
}

// Hub maintains the set of active websocket clients, broadcasts selection
// commands to them and hands inbound messages to a single handler.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
	onMessage func([]byte)
}

func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

// Handle installs the handler for messages read from any client.
func (h *Hub) Handle(fn func([]byte)) {
	h.mutex.Lock()
	h.onMessage = fn
	h.mutex.Unlock()
}

func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			// Set write deadline to prevent blocked clients from hanging the hub
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := client.WriteMessage(websocket.TextMessage, message)
			if err != nil {
				logging.L().Warnf("[Hub] websocket write error: %v", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Stop ends Run. Broadcast must not be called afterwards.
func (h *Hub) Stop() {
	close(h.broadcast)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Subscribe handles incoming websocket connections
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.L().Warnf("[Hub] failed to upgrade websocket: %v", err)
		return
	}

	canPublish := c.GetBool(canPublishKey)

	h.mutex.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mutex.Unlock()

	logging.L().Infof("[Hub] client connected (publish=%t), total clients: %d", canPublish, total)

	// Read loop: inbound selection notifications, and disconnect detection
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			total := len(h.clients)
			h.mutex.Unlock()
			conn.Close()
			logging.L().Infof("[Hub] client disconnected, total clients: %d", total)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logging.L().Warnf("[Hub] websocket error: %v", err)
				}
				break
			}
			if !canPublish {
				logging.L().Debugf("[Hub] dropping message from read-only client")
				continue
			}
			h.mutex.Lock()
			fn := h.onMessage
			h.mutex.Unlock()
			if fn != nil {
				fn(data)
			}
		}
	}()
}

// Broadcast queues data for every connected client. When the queue is full
// the message is dropped so a slow client never stalls a propagation.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		logging.L().Warnf("[Hub] broadcast queue full, dropping message")
	}
}
