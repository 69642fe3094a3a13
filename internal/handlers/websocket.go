package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

const writeWait = 10 * time.Second

// WSMessage is the envelope of every frame pushed to live clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler fans events out to connected live clients
type WebSocketHandler struct {
	logger      arbor.ILogger
	clients     map[*websocket.Conn]*sync.Mutex
	clientMutex sync.RWMutex
}

var _ interfaces.Broadcaster = (*WebSocketHandler)(nil)

// NewWebSocketHandler creates a handler with no connected clients
func NewWebSocketHandler(logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		logger:  logger,
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// HandleWebSocket upgrades the connection and keeps it registered until the client goes away.
// Clients only receive; inbound frames are read and discarded to service control messages.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}

	h.clientMutex.Lock()
	h.clients[conn] = &sync.Mutex{}
	total := len(h.clients)
	h.clientMutex.Unlock()

	h.logger.Debug().Str("remote", r.RemoteAddr).Int("clients", total).Msg("WebSocket client connected")

	defer func() {
		h.clientMutex.Lock()
		delete(h.clients, conn)
		remaining := len(h.clients)
		h.clientMutex.Unlock()
		conn.Close()

		h.logger.Debug().Str("remote", r.RemoteAddr).Int("clients", remaining).Msg("WebSocket client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.clientMutex.RLock()
	defer h.clientMutex.RUnlock()
	return len(h.clients)
}

// Broadcast sends one event to every connected client.
// A client whose write fails is dropped; the others still receive the event.
func (h *WebSocketHandler) Broadcast(ctx context.Context, event string, payload interface{}) error {
	data, err := json.Marshal(WSMessage{Type: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event, err)
	}

	h.clientMutex.RLock()
	clients := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for conn, mu := range h.clients {
		clients[conn] = mu
	}
	h.clientMutex.RUnlock()

	var failed []*websocket.Conn
	for conn, mu := range clients {
		mu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.TextMessage, data)
		mu.Unlock()
		if err != nil {
			h.logger.Warn().Err(err).Str("event", event).Msg("Failed to send event to client")
			failed = append(failed, conn)
		}
	}

	if len(failed) > 0 {
		h.clientMutex.Lock()
		for _, conn := range failed {
			delete(h.clients, conn)
		}
		h.clientMutex.Unlock()
		for _, conn := range failed {
			conn.Close()
		}
	}

	return nil
}

// QueueStatsSource supplies per-queue counts for the periodic stats push
type QueueStatsSource interface {
	Stats(ctx context.Context) ([]models.QueueCounts, error)
}

// StartQueueStatsPublisher publishes queue counts on the event bus every interval until ctx is done.
// Nothing is published while no client is connected.
func (h *WebSocketHandler) StartQueueStatsPublisher(ctx context.Context, events interfaces.EventService, source QueueStatsSource, interval time.Duration) {
	if interval <= 0 {
		return
	}

	common.SafeGo(h.logger, "queue-stats-publisher", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if h.ClientCount() == 0 {
					continue
				}
				stats, err := source.Stats(ctx)
				if err != nil {
					h.logger.Warn().Err(err).Msg("Failed to read queue stats")
					continue
				}
				if err := events.Publish(ctx, interfaces.Event{
					Type:    interfaces.EventQueueStats,
					Payload: stats,
				}); err != nil {
					h.logger.Warn().Err(err).Msg("Failed to publish queue stats")
				}
			}
		}
	})
}
