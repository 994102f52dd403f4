// api/routes/router.go
package routes

import (
	"net/http"
	"time"

	_ "seatlock/docs"
	"seatlock/internal/broadcast"
	"seatlock/internal/notifications"
	"seatlock/internal/payments"
	"seatlock/internal/seats"
	"seatlock/internal/shared/config"
	"seatlock/internal/shared/database"
	"seatlock/internal/shared/middleware"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Services are the long-lived components the routes are served from
type Services struct {
	Hub      *broadcast.Hub
	Seats    seats.Service
	Payments payments.Service
	Jobs     *seats.JobProcessor
	Stream   *notifications.SeatEventProducer // nil when Kafka is disabled
}

// Router holds all route dependencies
type Router struct {
	config   *config.Config
	db       *database.DB
	services *Services
}

// NewRouter creates a new router instance
func NewRouter(cfg *config.Config, db *database.DB, services *Services) *Router {
	return &Router{
		config:   cfg,
		db:       db,
		services: services,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check and basic info endpoints
	r.setupHealthRoutes(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := engine.Group(r.config.GetAPIBasePath())
	{
		r.setupSeatRoutes(api)
		r.setupRealtimeRoutes(api)
		r.setupPaymentRoutes(api)
	}
}

// setupHealthRoutes sets up health check and system status routes
func (r *Router) setupHealthRoutes(engine *gin.Engine) {
	engine.GET("/health", func(c *gin.Context) {
		if err := r.db.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"error":     err.Error(),
				"timestamp": time.Now(),
				"service":   "seatlock",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"service":   "seatlock",
		})
	})

	engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
			"version": r.config.APIVersion,
		})
	})

	engine.GET("/status", func(c *gin.Context) {
		status := gin.H{
			"status":      "operational",
			"api_version": r.config.APIVersion,
			"instance_id": r.config.InstanceID,
			"timestamp":   time.Now(),
			"broadcast":   r.services.Hub.Stats(),
		}
		if r.services.Jobs != nil {
			status["sweeper"] = r.services.Jobs.GetJobStatus()
		}
		if r.services.Stream != nil {
			status["seat_event_stream"] = r.services.Stream.Stats()
		}
		c.JSON(http.StatusOK, status)
	})
}

// setupSeatRoutes configures the seat map, lock and booking routes
func (r *Router) setupSeatRoutes(rg *gin.RouterGroup) {
	seatController := seats.NewController(r.services.Seats)
	seats.SetupSeatRoutes(rg, seatController, middleware.JWTAuthWithConfig(r.config))
}

// setupRealtimeRoutes configures the websocket and SSE seat change streams.
// Viewing is public; a token only ties the subscription to a user.
func (r *Router) setupRealtimeRoutes(rg *gin.RouterGroup) {
	handler := broadcast.NewHandler(r.services.Hub, r.services.Seats, broadcast.Options{
		MessagesPerSecond: r.config.Broadcast.WSMessagesPerSecond,
		PingInterval:      r.config.Broadcast.WSPingInterval,
		AllowedOrigins:    r.config.Broadcast.AllowedOrigins,
	})
	broadcast.SetupRealtimeRoutes(rg, handler, middleware.OptionalAuthWithConfig(r.config))
}

// setupPaymentRoutes configures checkout and the provider webhook
func (r *Router) setupPaymentRoutes(rg *gin.RouterGroup) {
	paymentController := payments.NewController(r.services.Payments)
	payments.SetupPaymentRoutes(rg, paymentController, middleware.JWTAuthWithConfig(r.config))
}
