package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger wraps slog.Logger with additional functionality
type Logger struct {
	*slog.Logger
}

// New creates a new logger instance writing to stdout
func New() *Logger {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter creates a logger writing to w; the format follows the gin mode
func NewWithWriter(w io.Writer) *Logger {
	level := getLogLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Text for development, JSON everywhere else
	var handler slog.Handler
	if gin.Mode() == gin.DebugMode {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// getLogLevel converts string to slog.Level
func getLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithUserID adds user ID to logger context
func (l *Logger) WithUserID(userID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("user_id", userID)),
	}
}

// WithConcertID adds concert ID to logger context
func (l *Logger) WithConcertID(concertID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("concert_id", concertID)),
	}
}

// WithError adds error to logger context
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("error", err.Error())),
	}
}

// HTTP logging methods

// LogHTTPRequest logs an HTTP request
func (l *Logger) LogHTTPRequest(c *gin.Context, duration time.Duration) {
	l.Logger.InfoContext(c.Request.Context(),
		"HTTP Request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("duration", duration),
		slog.String("ip", c.ClientIP()),
		slog.Int("size", c.Writer.Size()),
	)
}

// LogHTTPError logs an HTTP error
func (l *Logger) LogHTTPError(c *gin.Context, err error, statusCode int) {
	l.Logger.ErrorContext(c.Request.Context(),
		"HTTP Error",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", statusCode),
		slog.String("error", err.Error()),
		slog.String("ip", c.ClientIP()),
	)
}

// Seat lock logging methods

func (l *Logger) LogSeatsLocked(ctx context.Context, concertID, userID string, seatIDs []string) {
	l.Logger.InfoContext(ctx,
		"Seats Locked",
		slog.String("concert_id", concertID),
		slog.String("user_id", userID),
		slog.Any("seat_ids", seatIDs),
	)
}

func (l *Logger) LogSeatsReleased(ctx context.Context, concertID, userID string, seatIDs []string) {
	l.Logger.InfoContext(ctx,
		"Seats Released",
		slog.String("concert_id", concertID),
		slog.String("user_id", userID),
		slog.Any("seat_ids", seatIDs),
	)
}

func (l *Logger) LogLocksExpired(ctx context.Context, concertID string, seatIDs []string) {
	l.Logger.InfoContext(ctx,
		"Seat Locks Expired",
		slog.String("concert_id", concertID),
		slog.Any("seat_ids", seatIDs),
	)
}

// LogLockConflict logs a lock request that lost to another holder
func (l *Logger) LogLockConflict(ctx context.Context, concertID, userID string, seatIDs []string) {
	l.Logger.WarnContext(ctx,
		"Seat Lock Conflict",
		slog.String("concert_id", concertID),
		slog.String("user_id", userID),
		slog.Any("failed_seat_ids", seatIDs),
	)
}

// LogBookingCommitted logs when locked seats become a booking
func (l *Logger) LogBookingCommitted(ctx context.Context, bookingID, concertID, userID string, seatIDs []string) {
	l.Logger.InfoContext(ctx,
		"Booking Committed",
		slog.String("booking_id", bookingID),
		slog.String("concert_id", concertID),
		slog.String("user_id", userID),
		slog.Any("seat_ids", seatIDs),
	)
}

// LogDeliveryMiss logs a change event dropped for a slow subscriber
func (l *Logger) LogDeliveryMiss(ctx context.Context, concertID, clientID string) {
	l.Logger.WarnContext(ctx,
		"Broadcast Delivery Miss",
		slog.String("concert_id", concertID),
		slog.String("client_id", clientID),
	)
}

// Security logging methods

// LogAuthFailure logs failed authentication
func (l *Logger) LogAuthFailure(ctx context.Context, reason, ip string) {
	l.Logger.WarnContext(ctx,
		"Authentication Failure",
		slog.String("reason", reason),
		slog.String("ip", ip),
	)
}

// LogRateLimitExceeded logs rate limit exceeded
func (l *Logger) LogRateLimitExceeded(ctx context.Context, ip, endpoint string) {
	l.Logger.WarnContext(ctx,
		"Rate Limit Exceeded",
		slog.String("ip", ip),
		slog.String("endpoint", endpoint),
	)
}

// Global logger instance (can be replaced with dependency injection)
var defaultLogger = New()

// GetDefault returns the default logger instance
func GetDefault() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger instance
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
