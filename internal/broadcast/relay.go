package broadcast

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"seatlock/internal/seats"
	"seatlock/internal/shared/constants"
	"seatlock/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// relayEnvelope wraps an event with the instance that applied it so an
// instance never re-delivers its own changes.
type relayEnvelope struct {
	Origin string            `json:"origin"`
	Event  seats.ChangeEvent `json:"event"`
}

type outgoing struct {
	concertID string
	event     seats.ChangeEvent
}

// Relay mirrors change events between service instances over Redis pub/sub.
// Local publishes go out on seatlock:seat-events:<concertId>; events from
// other instances are delivered into the local hub.
type Relay struct {
	client     *redis.Client
	hub        *Hub
	instanceID string

	outbox   chan outgoing
	wg       sync.WaitGroup
	stopOnce sync.Once
	cancel   context.CancelFunc
}

func NewRelay(client *redis.Client, hub *Hub, instanceID string, buffer int) *Relay {
	if buffer <= 0 {
		buffer = 256
	}
	return &Relay{
		client:     client,
		hub:        hub,
		instanceID: instanceID,
		outbox:     make(chan outgoing, buffer),
	}
}

// Publish queues event for other instances. It never blocks the lock manager.
func (r *Relay) Publish(ctx context.Context, concertID string, event seats.ChangeEvent) {
	select {
	case r.outbox <- outgoing{concertID: concertID, event: event}:
	default:
		logger.GetDefault().LogDeliveryMiss(ctx, concertID, "relay:"+r.instanceID)
	}
}

// Start launches the sender and the pattern subscriber. The subscription is
// confirmed before Start returns so no foreign event published afterwards is lost.
func (r *Relay) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	pubsub := r.client.PSubscribe(ctx, constants.CHANNEL_SEAT_EVENTS_PATTERN)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		r.cancel()
		return err
	}

	r.wg.Add(2)
	go r.send(ctx)
	go r.receive(ctx, pubsub)

	logger.GetDefault().Info("Seat event relay started", "instance_id", r.instanceID)
	return nil
}

// Stop cancels the relay. Queued events that were not sent yet are dropped
// and clients recover them through reconciliation.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	})
}

func (r *Relay) send(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.outbox:
			payload, err := json.Marshal(relayEnvelope{Origin: r.instanceID, Event: msg.event})
			if err != nil {
				continue
			}
			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err = r.client.Publish(pubCtx, constants.BuildSeatEventsChannel(msg.concertID), payload).Err()
			cancel()
			if err != nil {
				logger.GetDefault().WithConcertID(msg.concertID).WithError(err).Warn("failed to relay seat event")
			}
		}
	}
}

func (r *Relay) receive(ctx context.Context, pubsub *redis.PubSub) {
	defer r.wg.Done()
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.deliver(ctx, msg)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, msg *redis.Message) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		logger.GetDefault().Warn("dropping malformed relay message", "channel", msg.Channel, "error", err)
		return
	}
	if env.Origin == r.instanceID {
		return
	}

	concertID := strings.TrimPrefix(msg.Channel, constants.CHANNEL_SEAT_EVENTS)
	if concertID == "" {
		concertID = env.Event.ConcertID
	}
	r.hub.Publish(ctx, concertID, env.Event)
}
