package handlers

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/acm-research/backend/internal/metrics"
	"github.com/acm-research/backend/internal/orchestrator"
	"github.com/acm-research/backend/pkg/logger"
)

// WebSocketHandler streams query status events to connected clients. Each
// client only receives events for its own queries.
type WebSocketHandler struct {
	broadcaster *orchestrator.Broadcaster
}

func NewWebSocketHandler(broadcaster *orchestrator.Broadcaster) *WebSocketHandler {
	return &WebSocketHandler{
		broadcaster: broadcaster,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	userID, _ := c.Locals("userID").(string)
	if userID == "" {
		c.WriteJSON(map[string]interface{}{
			"type":  "error",
			"error": "missing user identity",
		})
		c.Close()
		return
	}

	logger.Info("Status stream connected", zap.String("user_id", userID))
	metrics.WebsocketConnections.Inc()

	events, unsubscribe := h.broadcaster.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Drain reads so close frames are processed; clients do not send
		// meaningful messages on this stream.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		unsubscribe()
		c.Close()
		metrics.WebsocketConnections.Dec()
		logger.Info("Status stream closed", zap.String("user_id", userID))
	}()

	for {
		select {
		case <-done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.UserID != userID {
				continue
			}

			err := c.WriteJSON(map[string]interface{}{
				"type":      "status",
				"queryId":   event.QueryID,
				"status":    event.Status,
				"message":   event.Message,
				"timestamp": event.Timestamp,
			})
			if err != nil {
				logger.Debug("Failed to write status event", zap.Error(err))
				return
			}
		}
	}
}
