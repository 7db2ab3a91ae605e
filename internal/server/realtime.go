package server

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/konnection/roomstate/internal/kvstore"
	"go.uber.org/zap"
)

const (
	RealtimeEventChange    = "change"
	realtimeEventReady     = "ready"
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "roomstate"
	socketWriteTimeout     = 10 * time.Second
)

// changePayload tells a tab which collection changed. Tabs re-read the
// collection rather than trusting the payload.
type changePayload struct {
	Type      string `json:"type"`
	Category  string `json:"category"`
	Key       string `json:"key"`
	Version   int64  `json:"version"`
	Removed   bool   `json:"removed,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
}

func newChangePayload(event kvstore.ChangeEvent) changePayload {
	return changePayload{
		Type:      RealtimeEventChange,
		Category:  string(event.Category),
		Key:       event.Key,
		Version:   event.Version,
		Removed:   event.Removed,
		Timestamp: event.Timestamp.UnixMilli(),
		Source:    realtimeSourceBackend,
	}
}

func heartbeatPayload(now time.Time) gin.H {
	return gin.H{"type": realtimeEventHeartbeat, "timestamp": now.UnixMilli(), "source": realtimeSourceBackend}
}

// requestedCategories reads repeated or comma separated ?category= values.
// No value means every category.
func requestedCategories(c *gin.Context) []kvstore.Category {
	var categories []kvstore.Category
	for _, value := range c.QueryArray("category") {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				categories = append(categories, kvstore.Category(trimmed))
			}
		}
	}
	return categories
}

func (h *httpHandler) handleEventStream(c *gin.Context) {
	ctx := c.Request.Context()
	events, cleanup := h.changes.Subscribe(ctx, requestedCategories(c)...)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(realtimeEventReady, gin.H{"type": realtimeEventReady, "source": realtimeSourceBackend})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			c.SSEvent(RealtimeEventChange, newChangePayload(event))
			c.Writer.Flush()
		case now := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, heartbeatPayload(now))
			c.Writer.Flush()
		}
	}
}

func (h *httpHandler) handleEventSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("event socket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	events, cleanup := h.changes.Subscribe(ctx, requestedCategories(c)...)
	defer cleanup()

	// the read loop only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		var payload any
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case event := <-events:
			payload = newChangePayload(event)
		case now := <-ticker.C:
			payload = heartbeatPayload(now)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
		if err := conn.WriteJSON(payload); err != nil {
			h.logger.Debug("event socket write failed", zap.Error(err))
			return
		}
	}
}

// newUpgrader accepts same-origin requests, clients that send no Origin, and
// the configured browser origins.
func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			if slices.Contains(allowedOrigins, origin) {
				return true
			}
			parsed, err := url.Parse(origin)
			return err == nil && strings.EqualFold(parsed.Host, r.Host)
		},
	}
}
