package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"seatlock/internal/seats"
	"seatlock/pkg/logger"
)

const DefaultSubscriberBuffer = 32

// Subscription is one client's view of a concert topic. Events arrive in the
// order the lock manager applied them; a full buffer drops events rather than
// stalling the publisher, and the client is expected to reconcile.
type Subscription struct {
	ConcertID string
	ClientID  string

	events  chan seats.ChangeEvent
	dropped atomic.Int64
	closed  bool
}

// Events is closed when the subscription is removed from the hub
func (s *Subscription) Events() <-chan seats.ChangeEvent {
	return s.events
}

// Dropped reports how many events this subscriber missed
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Hub keeps one topic per concert and fans change events out to every
// subscriber of that topic. It implements seats.Publisher.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscription
	buffer int

	published atomic.Int64
	misses    atomic.Int64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		topics: make(map[string]map[string]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers clientID on the concert topic. A client subscribing
// twice keeps only the newest subscription.
func (h *Hub) Subscribe(concertID, clientID string) *Subscription {
	sub := &Subscription{
		ConcertID: concertID,
		ClientID:  clientID,
		events:    make(chan seats.ChangeEvent, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	topic := h.topics[concertID]
	if topic == nil {
		topic = make(map[string]*Subscription)
		h.topics[concertID] = topic
	}
	if old, ok := topic[clientID]; ok {
		h.closeLocked(old)
	}
	topic[clientID] = sub
	return sub
}

// Unsubscribe removes sub from its topic. Safe to call more than once and
// after the subscription was replaced.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	topic := h.topics[sub.ConcertID]
	if current, ok := topic[sub.ClientID]; ok && current == sub {
		delete(topic, sub.ClientID)
		if len(topic) == 0 {
			delete(h.topics, sub.ConcertID)
		}
	}
	h.closeLocked(sub)
}

func (h *Hub) closeLocked(sub *Subscription) {
	if !sub.closed {
		sub.closed = true
		close(sub.events)
	}
}

// Publish delivers event to every current subscriber of concertID without blocking
func (h *Hub) Publish(ctx context.Context, concertID string, event seats.ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.published.Add(1)
	for clientID, sub := range h.topics[concertID] {
		select {
		case sub.events <- event:
		default:
			sub.dropped.Add(1)
			h.misses.Add(1)
			logger.GetDefault().LogDeliveryMiss(ctx, concertID, clientID)
		}
	}
}

// SubscriberCount returns the number of live subscribers for concertID
func (h *Hub) SubscriberCount(concertID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[concertID])
}

// Stats is a point-in-time summary used by the health endpoint
type Stats struct {
	Topics      int   `json:"topics"`
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Misses      int64 `json:"deliveryMisses"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		Topics:    len(h.topics),
		Published: h.published.Load(),
		Misses:    h.misses.Load(),
	}
	for _, topic := range h.topics {
		stats.Subscribers += len(topic)
	}
	return stats
}

// Close drops every subscription, closing their channels
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for concertID, topic := range h.topics {
		for _, sub := range topic {
			h.closeLocked(sub)
		}
		delete(h.topics, concertID)
	}
}
