package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seatlock/api/routes"
	"seatlock/internal/broadcast"
	"seatlock/internal/notifications"
	"seatlock/internal/payments"
	"seatlock/internal/seats"
	"seatlock/internal/shared/config"
	"seatlock/internal/shared/constants"
	"seatlock/internal/shared/database"
	"seatlock/pkg/cache"
	"seatlock/pkg/logger"
	"seatlock/pkg/ratelimit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	appLogger := logger.GetDefault()

	// Smart environment loading
	if err := godotenv.Load(); err != nil {
		if os.Getenv("GIN_MODE") == "release" || os.Getenv("DOCKER_CONTAINER") == "true" {
			appLogger.Info("Production environment: using container environment variables")
		} else {
			appLogger.Info("No .env file found, using system environment variables")
		}
	} else {
		appLogger.Info("Development environment: loaded .env file")
	}

	cfg := config.Load()
	if cfg.InstanceID == "" {
		cfg.InstanceID = instanceID()
	}

	gin.SetMode(cfg.GinMode)

	db, err := database.InitDB(cfg)
	if err != nil {
		appLogger.Error("failed to connect", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	application, err := buildApp(rootCtx, cfg, db)
	if err != nil {
		appLogger.Error("failed to start services", slog.Any("error", err))
		os.Exit(1)
	}
	defer application.stop()

	var rateLimiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled && db.Redis != nil {
		rateLimiter = ratelimit.NewRateLimiter(db.Redis, &ratelimit.Config{
			Enabled:          cfg.RateLimit.Enabled,
			WindowDuration:   cfg.RateLimit.WindowDuration,
			DefaultRequests:  cfg.RateLimit.DefaultRequests,
			PublicRequests:   cfg.RateLimit.PublicRequests,
			SeatLockRequests: cfg.RateLimit.SeatLockRequests,
			PaymentRequests:  cfg.RateLimit.PaymentRequests,
			AdminRequests:    cfg.RateLimit.AdminRequests,
			RealtimeRequests: cfg.RateLimit.RealtimeRequests,
			HealthRequests:   cfg.RateLimit.HealthRequests,
			WhitelistedIPs:   cfg.RateLimit.WhitelistedIPs,
		})
		appLogger.Info("Rate limiter initialized",
			slog.Duration("window", cfg.RateLimit.WindowDuration),
			slog.Int("seat_lock_requests", cfg.RateLimit.SeatLockRequests),
		)
	} else {
		appLogger.Info("Rate limiting disabled")
	}

	router := setupRouter(cfg, db, application.services, rateLimiter)

	// WriteTimeout is left to the handlers: websocket and SSE responses are long lived
	srv := &http.Server{
		Addr:           cfg.GetServerAddress(),
		Handler:        router,
		ReadTimeout:    cfg.ReadTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}

	go func() {
		appLogger.Info("🚀 Server running",
			slog.String("address", cfg.GetServerAddress()),
			slog.String("health_check", fmt.Sprintf("http://localhost:%s/health", cfg.Port)),
			slog.String("swagger", fmt.Sprintf("http://localhost:%s/swagger/index.html", cfg.Port)),
			slog.String("version", Version),
			slog.String("commit", GitCommit),
			slog.String("instance_id", cfg.InstanceID),
			slog.String("seat_store", cfg.Locks.StoreDriver),
			slog.Bool("redis", db.Redis != nil),
			slog.Bool("kafka", cfg.Kafka.Enabled),
			slog.Bool("amqp", cfg.AMQP.Enabled),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed", slog.Any("error", err))
			rootCancel()
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-rootCtx.Done():
	}
	appLogger.Info("Shutting down server...")

	// Closing the hub first ends websocket and SSE handlers so Shutdown does not wait on them
	application.services.Hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Forced shutdown", slog.Any("error", err))
	}

	appLogger.Info("Server exited gracefully")
}

// app owns the background components and stops them in reverse start order
type app struct {
	services *routes.Services
	stops    []func()
}

func (a *app) onStop(fn func()) {
	a.stops = append(a.stops, fn)
}

func (a *app) stop() {
	for i := len(a.stops) - 1; i >= 0; i-- {
		a.stops[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, db *database.DB) (*app, error) {
	appLogger := logger.GetDefault()
	a := &app{}

	var repo seats.Repository
	if cfg.UsesMemoryStore() {
		repo = seats.NewMemoryRepository()
		appLogger.Warn("Seat store is in memory; locks and bookings are lost on restart")
	} else {
		repo = seats.NewRepository(db.GetPostgreSQL())
	}

	hub := broadcast.NewHub(cfg.Broadcast.SubscriberBuffer)
	publishers := seats.Publishers{hub}

	if db.Redis != nil && cfg.Broadcast.RelayEnabled {
		relay := broadcast.NewRelay(db.Redis, hub, cfg.InstanceID, cfg.Broadcast.SubscriberBuffer*8)
		if err := relay.Start(ctx); err != nil {
			a.stop()
			return nil, fmt.Errorf("failed to start broadcast relay: %w", err)
		}
		a.onStop(relay.Stop)
		publishers = append(publishers, relay)
		appLogger.Info("Broadcast relay started", slog.String("pattern", constants.CHANNEL_SEAT_EVENTS_PATTERN))
	}

	var stream *notifications.SeatEventProducer
	if cfg.Kafka.Enabled {
		producerConfig := notifications.DefaultProducerConfig()
		producerConfig.Brokers = cfg.Kafka.Brokers
		producerConfig.Topic = cfg.Kafka.SeatTopic
		producerConfig.BufferSize = cfg.Kafka.BufferSize
		producerConfig.Source = "seatlock:" + cfg.InstanceID

		producer, err := notifications.NewSeatEventProducer(producerConfig)
		if err != nil {
			// the stream is an audit feed; seat locking works without it
			appLogger.Error("Continuing without the Kafka seat event stream", slog.Any("error", err))
		} else {
			stream = producer
			publishers = append(publishers, producer)
			a.onStop(func() {
				if err := producer.Close(); err != nil {
					appLogger.Error("Error closing seat event producer", slog.Any("error", err))
				}
			})
		}
	}

	seatService := seats.NewService(repo, publishers, seats.Options{
		LockTTL:         cfg.Locks.TTL,
		MaxSeatsPerUser: cfg.Locks.MaxSeats,
	})

	var lease seats.Lease = seats.NewLocalLease()
	if db.Redis != nil {
		cacheService := cache.NewService(db.Redis)
		if cfg.UsesMemoryStore() {
			// a previous process may have cached seat maps this store never held
			if err := cacheService.DeletePattern(ctx, constants.CACHE_KEY_SEAT_MAP+"*"); err != nil {
				appLogger.Warn("Failed to clear seat map cache", slog.Any("error", err))
			}
		}
		seatService.SetCacheService(cacheService)

		redisLease := seats.NewRedisLease(db.Redis, constants.CACHE_PREFIX)
		preloadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := redisLease.PreloadScripts(preloadCtx); err != nil {
			appLogger.Error("Failed to preload Redis Lua scripts", slog.Any("error", err))
		} else {
			appLogger.Info("✅ Redis Lua scripts preloaded for the sweeper lease")
		}
		cancel()
		lease = redisLease
	}

	jobs := seats.NewJobProcessor(seatService, lease, &seats.JobConfig{
		SweepInterval: cfg.Locks.SweepInterval,
		InstanceID:    cfg.InstanceID,
	})
	jobs.Start(ctx)
	a.onStop(jobs.Stop)

	var refunds payments.RefundPublisher
	if cfg.AMQP.Enabled {
		publisher := payments.NewAMQPRefundPublisher(cfg.AMQP.URL, cfg.AMQP.RefundQueue)
		refunds = publisher
		a.onStop(func() { _ = publisher.Close() })
	}

	paymentService := payments.NewService(
		seatService,
		payments.NewHTTPGateway(cfg.Payments.CheckoutURL, cfg.Payments.Timeout),
		refunds,
		payments.Config{
			Currency:      cfg.Payments.Currency,
			SuccessURL:    cfg.Payments.SuccessURL,
			CancelURL:     cfg.Payments.CancelURL,
			WebhookSecret: cfg.Payments.WebhookSecret,
		},
	)

	if cfg.AMQP.Enabled {
		consumer := payments.NewConsumer(cfg.AMQP.URL, cfg.AMQP.SucceededQueue, paymentService)
		consumer.Start(ctx)
		a.onStop(consumer.Stop)
		appLogger.Info("Payment result consumer started", slog.String("queue", cfg.AMQP.SucceededQueue))
	}

	a.services = &routes.Services{
		Hub:      hub,
		Seats:    seatService,
		Payments: paymentService,
		Jobs:     jobs,
		Stream:   stream,
	}
	return a, nil
}

func setupRouter(cfg *config.Config, db *database.DB, services *routes.Services, rateLimiter *ratelimit.RateLimiter) *gin.Engine {
	engine := gin.New()
	appLogger := logger.GetDefault()

	// Built-in middleware: logs requests + recovers from panics
	engine.Use(RequestLoggerMiddleware(appLogger), gin.Recovery())

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Signature"},
		ExposeHeaders:    []string{"Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.Broadcast.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Broadcast.AllowedOrigins
	} else {
		corsConfig.AllowOriginFunc = func(origin string) bool { return true }
	}
	engine.Use(cors.New(corsConfig))

	if rateLimiter != nil {
		engine.Use(ratelimit.Middleware(rateLimiter))
		appLogger.Info("Rate limiting middleware applied to all routes")
	}

	appRouter := routes.NewRouter(cfg, db, services)
	appRouter.SetupRoutes(engine)

	return engine
}

func RequestLoggerMiddleware(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.LogHTTPRequest(c, time.Since(start))
	}
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "seatlock"
	}
	return host + "-" + uuid.NewString()[:8]
}
