package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"seatlock/internal/seats"
	"seatlock/internal/shared/middleware"
	"seatlock/internal/shared/utils/response"
	"seatlock/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	MessageSnapshot = "SNAPSHOT"
	MessageSync     = "SYNC"
	MessagePing     = "PING"
	MessagePong     = "PONG"

	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// SnapshotMessage carries the full seat map of a concert. It is sent when a
// client connects and whenever it asks for a SYNC.
type SnapshotMessage struct {
	Type       string       `json:"type"`
	ConcertID  string       `json:"concertId"`
	Seats      []seats.Seat `json:"seats"`
	ServerTime time.Time    `json:"serverTime"`
	TTLSeconds int          `json:"ttlSeconds"`
}

type inboundMessage struct {
	Type string `json:"type"`
}

// Options tunes the realtime transports
type Options struct {
	MessagesPerSecond float64
	PingInterval      time.Duration
	AllowedOrigins    []string
}

func DefaultOptions() Options {
	return Options{
		MessagesPerSecond: 5,
		PingInterval:      30 * time.Second,
	}
}

// Handler serves the websocket and SSE transports on top of a Hub
type Handler struct {
	hub      *Hub
	service  seats.Service
	opts     Options
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, service seats.Service, opts Options) *Handler {
	defaults := DefaultOptions()
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = defaults.MessagesPerSecond
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}

	h := &Handler{hub: hub, service: service, opts: opts}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// clientID identifies a subscriber. Browsers pass their own id so a reconnect
// replaces the stale subscription instead of leaking it.
func clientID(c *gin.Context) string {
	if id := c.Query("clientId"); id != "" {
		if userID, ok := middleware.CurrentUserID(c); ok {
			return userID + ":" + id
		}
		return id
	}
	return uuid.NewString()
}

func (h *Handler) snapshot(ctx context.Context, concertID string) (*SnapshotMessage, error) {
	list, err := h.service.GetSeats(ctx, concertID)
	if err != nil {
		return nil, err
	}
	return &SnapshotMessage{
		Type:       MessageSnapshot,
		ConcertID:  concertID,
		Seats:      list,
		ServerTime: time.Now().UTC(),
		TTLSeconds: int(h.service.LockTTL().Seconds()),
	}, nil
}

// ServeWS upgrades the request and streams the concert's change events
func (h *Handler) ServeWS(c *gin.Context) {
	concertID := c.Param("concertId")
	if concertID == "" {
		response.RespondJSON(c, "error", http.StatusBadRequest, "concert id is required", nil, nil)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.GetDefault().Warn("websocket upgrade failed", "concert_id", concertID, "error", err)
		return
	}

	// Subscribe before the snapshot so no change falls between the two
	sub := h.hub.Subscribe(concertID, clientID(c))
	log := logger.GetDefault().WithConcertID(concertID)
	log.Debug("websocket connected", "client_id", sub.ClientID)

	replies := make(chan interface{}, 4)
	done := make(chan struct{})

	go h.writePump(conn, sub, replies, done)
	h.readPump(c.Request.Context(), conn, concertID, replies)

	close(done)
	h.hub.Unsubscribe(sub)
	log.Debug("websocket disconnected", "client_id", sub.ClientID, "dropped", sub.Dropped())
}

func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, concertID string, replies chan<- interface{}) {
	defer conn.Close()

	pongWait := h.opts.PingInterval * 2
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if snap, err := h.snapshot(ctx, concertID); err == nil {
		replies <- snap
	} else {
		logger.GetDefault().WithConcertID(concertID).WithError(err).Warn("initial snapshot failed")
	}

	limiter := rate.NewLimiter(rate.Limit(h.opts.MessagesPerSecond), int(h.opts.MessagesPerSecond)+1)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if !limiter.Allow() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many messages"),
				time.Now().Add(writeWait))
			return
		}

		var in inboundMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			continue
		}

		var reply interface{}
		switch in.Type {
		case MessageSync:
			snap, err := h.snapshot(ctx, concertID)
			if err != nil {
				continue
			}
			reply = snap
		case MessagePing:
			reply = inboundMessage{Type: MessagePong}
		default:
			continue
		}

		select {
		case replies <- reply:
		default:
		}
	}
}

// writePump owns every data write on conn; gorilla allows one concurrent writer
func (h *Handler) writePump(conn *websocket.Conn, sub *Subscription, replies <-chan interface{}, done <-chan struct{}) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "subscription closed"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeJSON(conn, event); err != nil {
				return
			}
		case reply := <-replies:
			if err := writeJSON(conn, reply); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
