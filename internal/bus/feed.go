package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/fraudpipeline/internal/metrics"
	"github.com/mbd888/fraudpipeline/internal/transaction"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// feedClient is a WebSocket connection subscribed to the live decision feed.
type feedClient struct {
	hub  *FeedHub
	conn *websocket.Conn
	send chan []byte
}

// MaxFeedClients bounds concurrent live-feed WebSocket connections.
const MaxFeedClients = 10000

// FeedHub fans decisions published on the Outbound topic out to
// connected admin dashboard WebSocket clients. It subscribes to a Bus
// rather than owning message delivery itself, so the stream processor
// and sink never need a reference to it directly.
type FeedHub struct {
	clients    map[*feedClient]bool
	register   chan *feedClient
	unregister chan *feedClient
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{}
	maxClients int

	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewFeedHub creates a hub not yet subscribed to any bus.
func NewFeedHub(logger *slog.Logger) *FeedHub {
	return &FeedHub{
		clients:    make(map[*feedClient]bool),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxFeedClients,
	}
}

// Run subscribes to b's Outbound topic and services client
// register/unregister/broadcast until ctx is cancelled.
func (h *FeedHub) Run(ctx context.Context, b Bus) {
	msgs, cancel := b.Subscribe(Outbound)
	defer cancel()

	h.logger.Info("feed hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("feed hub shutting down, closing client connections")
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))

		case msg, ok := <-msgs:
			if !ok {
				return
			}
			h.broadcastRaw(msg.Payload)
		}
	}
}

func (h *FeedHub) broadcastRaw(payload []byte) {
	h.mu.RLock()
	var slow []*feedClient
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, client := range slow {
			if _, ok := h.clients[client]; ok {
				close(client.send)
				delete(h.clients, client)
			}
		}
		h.mu.Unlock()
	}
}

// PublishDecision is a convenience wrapper that JSON-encodes d and
// publishes it on b's Outbound topic for FeedHub instances to pick up.
func PublishDecision(ctx context.Context, b Bus, d transaction.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return b.Publish(ctx, Message{Topic: Outbound, Key: d.UserID, Payload: payload, PublishedAt: time.Now()})
}

// HandleWebSocket upgrades an HTTP request to a live-feed WebSocket connection.
func (h *FeedHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &feedClient{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *feedClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
	}
}

func (c *feedClient) writePump() {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
