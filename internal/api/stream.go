package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const heartbeatInterval = 30 * time.Second

// streamNotifications pushes the caller's notifications as server-sent
// events as soon as they are recorded.
func (h *Handler) streamNotifications(c *gin.Context) {
	if h.broadcaster == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream unavailable"})
		return
	}

	actor := actorFrom(c)
	id, ch := h.broadcaster.Subscribe(actor.SubjectID)
	defer h.broadcaster.Unsubscribe(id)

	slog.Info("client subscribed to notification stream", "subscriber_id", id, "subject_id", actor.SubjectID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Info("client disconnected from notification stream", "subscriber_id", id)
			return
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			c.Writer.Flush()
		case n, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("notification", n)
			c.Writer.Flush()
		}
	}
}
