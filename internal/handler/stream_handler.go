package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/papersim/internal/models"
	"github.com/papersim/internal/service"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 50 * time.Second
	streamSendBuffer = 64
)

// StreamMessage is one frame pushed to stream subscribers
type StreamMessage struct {
	Type      string          `json:"type"` // event or tick
	EventType string          `json:"event_type,omitempty"`
	AccountID string          `json:"account_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"ts"`
}

type streamClient struct {
	accountID string
	conn      *websocket.Conn
	send      chan []byte
}

// StreamHub pushes settlement events and clock ticks to WebSocket clients
// subscribed to an account. Slow clients lose frames instead of blocking
// the publisher.
type StreamHub struct {
	mu       sync.RWMutex
	clients  map[string]map[*streamClient]struct{}
	upgrader websocket.Upgrader
}

// NewStreamHub creates a new StreamHub
func NewStreamHub() *StreamHub {
	return &StreamHub{
		clients: make(map[string]map[*streamClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Publish implements messaging.EventSink
func (h *StreamHub) Publish(ctx context.Context, event models.OutboxEvent) error {
	h.broadcast(event.AccountID, StreamMessage{
		Type:      "event",
		EventType: event.EventType,
		AccountID: event.AccountID,
		Data:      json.RawMessage(event.Payload),
		Timestamp: event.CreatedAt.UnixMilli(),
	})
	return nil
}

// OnTick implements worker.TickListener
func (h *StreamHub) OnTick(accountID string, result *service.TickResult) {
	if !h.hasClients(accountID) {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		log.Printf("[StreamHub] Failed to marshal tick for %s: %v", accountID, err)
		return
	}
	h.broadcast(accountID, StreamMessage{
		Type:      "tick",
		AccountID: accountID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// ClientCount returns the number of connected clients of an account
func (h *StreamHub) ClientCount(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[accountID])
}

func (h *StreamHub) hasClients(accountID string) bool {
	return h.ClientCount(accountID) > 0
}

func (h *StreamHub) broadcast(accountID string, msg StreamMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.clients[accountID]
	if len(subs) == 0 {
		return
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[StreamHub] Failed to marshal frame: %v", err)
		return
	}
	for client := range subs {
		select {
		case client.send <- frame:
		default:
			log.Printf("[StreamHub] Dropping frame for slow client on account %s", accountID)
		}
	}
}

func (h *StreamHub) register(client *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.clients[client.accountID]
	if !ok {
		subs = make(map[*streamClient]struct{})
		h.clients[client.accountID] = subs
	}
	subs[client] = struct{}{}
}

func (h *StreamHub) unregister(client *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.clients[client.accountID]
	if _, ok := subs[client]; !ok {
		return
	}
	delete(subs, client)
	close(client.send)
	if len(subs) == 0 {
		delete(h.clients, client.accountID)
	}
}

// Stream upgrades the request and streams frames for the account
// GET /api/v1/stream/:account_id
func (h *StreamHub) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[StreamHub] Upgrade failed: %v", err)
		return
	}

	client := &streamClient{
		accountID: c.Param("account_id"),
		conn:      conn,
		send:      make(chan []byte, streamSendBuffer),
	}
	h.register(client)

	go h.writePump(client)
	h.readPump(client)
}

// readPump discards client frames and unregisters on disconnect
func (h *StreamHub) readPump(client *streamClient) {
	defer func() {
		h.unregister(client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHub) writePump(client *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// RegisterRoutes registers the stream route
func (h *StreamHub) RegisterRoutes(rg *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	rg.GET("/stream/:account_id", authMiddleware, h.Stream)
}
