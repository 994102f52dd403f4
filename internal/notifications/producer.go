package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"seatlock/internal/seats"
	"seatlock/pkg/logger"

	"github.com/IBM/sarama"
)

const (
	HeaderEventType = "event_type"
	HeaderSource    = "source"
	HeaderVersion   = "version"
)

// ProducerConfig contains configuration for the seat event producer
type ProducerConfig struct {
	Brokers          []string
	Topic            string
	Source           string
	BufferSize       int
	RetryMax         int
	Timeout          time.Duration
	RequiredAcks     sarama.RequiredAcks
	CompressionType  sarama.CompressionCodec
	IdempotentWrites bool
	MaxMessageBytes  int
}

func DefaultProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		Brokers:          []string{"localhost:9092"},
		Topic:            "seat-events",
		Source:           "seatlock",
		BufferSize:       1024,
		RetryMax:         3,
		Timeout:          10 * time.Second,
		RequiredAcks:     sarama.WaitForAll,
		CompressionType:  sarama.CompressionSnappy,
		IdempotentWrites: true,
		MaxMessageBytes:  1000000, // 1MB
	}
}

// NewSaramaConfig builds the producer settings; keyed messages go through the
// hash partitioner so every event of one concert lands on one partition.
func NewSaramaConfig(config *ProducerConfig) *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = config.RequiredAcks
	saramaConfig.Producer.Compression = config.CompressionType
	saramaConfig.Producer.Retry.Max = config.RetryMax
	saramaConfig.Producer.Timeout = config.Timeout
	saramaConfig.Producer.Idempotent = config.IdempotentWrites
	saramaConfig.Producer.MaxMessageBytes = config.MaxMessageBytes
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	if config.IdempotentWrites {
		saramaConfig.Net.MaxOpenRequests = 1
	}
	return saramaConfig
}

// SeatEventProducer streams applied seat changes to Kafka. Publish never
// blocks the lock manager: events go to a bounded buffer drained by one
// goroutine, and a full buffer drops the event.
type SeatEventProducer struct {
	producer sarama.SyncProducer
	config   *ProducerConfig
	queue    chan seats.ChangeEvent

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewSeatEventProducer dials the brokers and starts the send loop
func NewSeatEventProducer(config *ProducerConfig) (*SeatEventProducer, error) {
	producer, err := sarama.NewSyncProducer(config.Brokers, NewSaramaConfig(config))
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewSeatEventProducerWith(producer, config), nil
}

// NewSeatEventProducerWith wraps an existing SyncProducer
func NewSeatEventProducerWith(producer sarama.SyncProducer, config *ProducerConfig) *SeatEventProducer {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultProducerConfig().BufferSize
	}
	p := &SeatEventProducer{
		producer: producer,
		config:   config,
		queue:    make(chan seats.ChangeEvent, config.BufferSize),
		done:     make(chan struct{}),
	}
	go p.run()

	logger.GetDefault().Info("Kafka seat event producer started", "topic", config.Topic, "brokers", config.Brokers)
	return p
}

// Publish implements seats.Publisher
func (p *SeatEventProducer) Publish(ctx context.Context, concertID string, event seats.ChangeEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.queue <- event:
	default:
		p.dropped.Add(1)
		logger.GetDefault().WarnContext(ctx, "seat event stream buffer full, event dropped",
			"concert_id", concertID,
			"event_type", event.Type,
		)
	}
}

func (p *SeatEventProducer) run() {
	defer close(p.done)
	for event := range p.queue {
		if err := p.send(event); err != nil {
			p.failed.Add(1)
			logger.GetDefault().Error("failed to send seat event to Kafka",
				"concert_id", event.ConcertID,
				"event_type", event.Type,
				"error", err,
			)
			continue
		}
		p.sent.Add(1)
	}
}

func (p *SeatEventProducer) send(event seats.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal seat event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic:     p.config.Topic,
		Key:       sarama.StringEncoder(event.ConcertID),
		Value:     sarama.ByteEncoder(payload),
		Headers:   p.headers(event),
		Timestamp: event.At,
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		return err
	}

	logger.GetDefault().Debug("Seat event streamed",
		"topic", p.config.Topic,
		"partition", partition,
		"offset", offset,
		"event_type", event.Type,
		"concert_id", event.ConcertID,
	)
	return nil
}

func (p *SeatEventProducer) headers(event seats.ChangeEvent) []sarama.RecordHeader {
	return []sarama.RecordHeader{
		{Key: []byte(HeaderEventType), Value: []byte(event.Type)},
		{Key: []byte(HeaderSource), Value: []byte(p.config.Source)},
		{Key: []byte(HeaderVersion), Value: []byte("1")},
	}
}

// Stats reports send counters
func (p *SeatEventProducer) Stats() map[string]int64 {
	return map[string]int64{
		"sent":    p.sent.Load(),
		"failed":  p.failed.Load(),
		"dropped": p.dropped.Load(),
		"queued":  int64(len(p.queue)),
	}
}

// Close stops accepting events, sends what is queued and closes the producer
func (p *SeatEventProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	logger.GetDefault().Info("Kafka seat event producer closed")
	return nil
}
