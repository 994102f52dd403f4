package broadcast

import (
	"io"
	"net/http"
	"time"

	"seatlock/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
)

// ServeSSE streams change events as server-sent events for clients that
// cannot hold a websocket open. The first event is a full snapshot.
func (h *Handler) ServeSSE(c *gin.Context) {
	concertID := c.Param("concertId")

	sub := h.hub.Subscribe(concertID, clientID(c))
	defer h.hub.Unsubscribe(sub)

	snap, err := h.snapshot(c.Request.Context(), concertID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "Failed to load seats", err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent(MessageSnapshot, snap)
	c.Writer.Flush()

	keepAlive := time.NewTicker(h.opts.PingInterval)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case <-keepAlive.C:
			c.SSEvent(MessagePing, gin.H{"serverTime": time.Now().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
