package broadcast

import "github.com/gin-gonic/gin"

// SetupRealtimeRoutes registers the websocket and SSE endpoints. auth may be
// an optional-auth middleware; anonymous viewers can watch a seat map.
func SetupRealtimeRoutes(rg *gin.RouterGroup, handler *Handler, auth gin.HandlerFunc) {
	rg.GET("/ws/concerts/:concertId", auth, handler.ServeWS)
	rg.GET("/seats/concert/:concertId/stream", auth, handler.ServeSSE)
}
