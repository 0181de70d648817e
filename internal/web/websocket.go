// internal/web/websocket.go
package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"dwmon/internal/metrics"
	"dwmon/internal/monitoring"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type WSClient struct {
	conn *websocket.Conn
	send chan WSMessage
	hub  *Hub
}

// Hub tracks websocket clients and pushes check results to them. It is
// also a check handler.
type Hub struct {
	mu      sync.Mutex
	clients map[*WSClient]bool
	metrics *metrics.Collector
}

var _ monitoring.Handler = (*Hub)(nil)

func NewHub(collector *metrics.Collector) *Hub {
	if collector == nil {
		collector = metrics.NewCollector(nil)
	}
	return &Hub{
		clients: make(map[*WSClient]bool),
		metrics: collector,
	}
}

// Handle broadcasts the result to every connected client.
func (h *Hub) Handle(ctx context.Context, result monitoring.CheckResult, extra map[string]any) error {
	h.Broadcast(WSMessage{Type: "check_result", Data: result})
	return nil
}

func (h *Hub) Broadcast(message WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			// Slow client
			h.removeLocked(client)
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.removeLocked(client)
	}
}

func (h *Hub) add(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
	h.metrics.RecordWebSocketConnection(1)
}

func (h *Hub) remove(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *WSClient) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.metrics.RecordWebSocketConnection(-1)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to upgrade websocket")
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan WSMessage, 256),
		hub:  s.hub,
	}
	// Send the latest results so clients don't start empty
	client.send <- WSMessage{Type: "recent_results", Data: s.engine.RecentResults(20)}
	s.hub.add(client)

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
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

			if err := c.conn.WriteJSON(message); err != nil {
				c.hub.remove(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.remove(c)
				return
			}
		}
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
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
