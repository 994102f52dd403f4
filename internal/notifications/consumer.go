package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"seatlock/internal/seats"
	"seatlock/pkg/logger"

	"github.com/IBM/sarama"
)

// EventHandler receives one decoded seat event. Returning an error leaves the
// message unmarked so the group redelivers it after a rebalance.
type EventHandler func(ctx context.Context, event seats.ChangeEvent) error

type ConsumerConfig struct {
	Brokers        []string
	GroupID        string
	Topic          string
	SessionTimeout time.Duration
	Heartbeat      time.Duration
	OffsetOldest   bool
}

func DefaultConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		Brokers:        []string{"localhost:9092"},
		GroupID:        "seatlock-seat-events",
		Topic:          "seat-events",
		SessionTimeout: 30 * time.Second,
		Heartbeat:      3 * time.Second,
	}
}

// SeatEventConsumer reads the seat event stream as a consumer group
type SeatEventConsumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler EventHandler

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewSeatEventConsumer(config *ConsumerConfig, handler EventHandler) (*SeatEventConsumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Group.Session.Timeout = config.SessionTimeout
	saramaConfig.Consumer.Group.Heartbeat.Interval = config.Heartbeat
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
	saramaConfig.Consumer.Offsets.AutoCommit.Interval = time.Second
	if config.OffsetOldest {
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	group, err := sarama.NewConsumerGroup(config.Brokers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	return &SeatEventConsumer{group: group, topic: config.Topic, handler: handler}, nil
}

// Start consumes until ctx is cancelled or Stop is called
func (c *SeatEventConsumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			logger.GetDefault().Warn("seat event consumer error", "error", err)
		}
	}()
	go func() {
		defer c.wg.Done()
		handler := &groupHandler{handler: c.handler}
		for ctx.Err() == nil {
			// Consume returns on every rebalance and must be called again
			if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				logger.GetDefault().Warn("seat event consumer session failed", "error", err)
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}()
}

func (c *SeatEventConsumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.group.Close()
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close consumer group: %w", err)
	}
	return nil
}

type groupHandler struct {
	handler EventHandler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(session.Context(), message); err != nil {
				logger.GetDefault().Warn("seat event not processed",
					"partition", message.Partition,
					"offset", message.Offset,
					"error", err,
				)
				continue
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *groupHandler) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, err := DecodeSeatEvent(message)
	if err != nil {
		// a payload that cannot be decoded will never succeed; log and skip it
		logger.GetDefault().Error("malformed seat event skipped", "offset", message.Offset, "error", err)
		return nil
	}
	return h.handler(ctx, event)
}

// DecodeSeatEvent parses a message written by SeatEventProducer
func DecodeSeatEvent(message *sarama.ConsumerMessage) (seats.ChangeEvent, error) {
	var event seats.ChangeEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return event, fmt.Errorf("failed to unmarshal seat event: %w", err)
	}
	if event.ConcertID == "" {
		event.ConcertID = string(message.Key)
	}
	return event, nil
}
