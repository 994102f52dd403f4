package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"seatlock/internal/seats"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockedEvent(concertID string) seats.ChangeEvent {
	holder := "alice"
	at := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	return seats.ChangeEvent{
		Type:      seats.ChangeLocked,
		ConcertID: concertID,
		UserID:    holder,
		Seats:     []seats.SeatChange{{ID: "s1", Status: seats.StatusReserved, LockedBy: &holder, LockedAt: &at, Version: 1}},
		At:        at,
	}
}

func headerValue(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestSeatEventProducerSendsKeyedMessages(t *testing.T) {
	mock := mocks.NewSyncProducer(t, mocks.NewTestConfig())

	var mu sync.Mutex
	var got []*sarama.ProducerMessage
	capture := func(msg *sarama.ProducerMessage) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg)
		return nil
	}
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(capture)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(capture)

	config := DefaultProducerConfig()
	producer := NewSeatEventProducerWith(mock, config)

	producer.Publish(context.Background(), "concert-1", lockedEvent("concert-1"))
	producer.Publish(context.Background(), "concert-2", lockedEvent("concert-2"))
	require.NoError(t, producer.Close())

	require.Len(t, got, 2)
	assert.Equal(t, "seat-events", got[0].Topic)

	key, err := got[0].Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "concert-1", string(key))
	assert.Equal(t, "LOCKED", headerValue(got[0], HeaderEventType))
	assert.Equal(t, "seatlock", headerValue(got[0], HeaderSource))

	value, err := got[1].Value.Encode()
	require.NoError(t, err)
	var decoded seats.ChangeEvent
	require.NoError(t, json.Unmarshal(value, &decoded))
	assert.Equal(t, "concert-2", decoded.ConcertID)
	assert.Equal(t, []string{"s1"}, decoded.SeatIDs())

	assert.Equal(t, int64(2), producer.Stats()["sent"])
}

func TestSeatEventProducerCountsFailures(t *testing.T) {
	mock := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := NewSeatEventProducerWith(mock, DefaultProducerConfig())
	producer.Publish(context.Background(), "concert-1", lockedEvent("concert-1"))
	require.NoError(t, producer.Close())

	assert.Equal(t, int64(1), producer.Stats()["failed"])
	assert.Equal(t, int64(0), producer.Stats()["sent"])
}

// blockingProducer holds every send until release is closed
type blockingProducer struct {
	sarama.SyncProducer
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return 0, 0, nil
}

func (b *blockingProducer) Close() error { return nil }

func TestSeatEventProducerDropsWhenFull(t *testing.T) {
	blocked := &blockingProducer{started: make(chan struct{}), release: make(chan struct{})}
	config := DefaultProducerConfig()
	config.BufferSize = 1
	producer := NewSeatEventProducerWith(blocked, config)

	producer.Publish(context.Background(), "concert-1", lockedEvent("concert-1"))
	<-blocked.started

	// one event is in flight, one fits the buffer, the third is dropped
	done := make(chan struct{})
	go func() {
		producer.Publish(context.Background(), "concert-1", lockedEvent("concert-1"))
		producer.Publish(context.Background(), "concert-1", lockedEvent("concert-1"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}

	close(blocked.release)
	require.NoError(t, producer.Close())
	assert.Equal(t, int64(1), producer.Stats()["dropped"])
	assert.Equal(t, int64(2), producer.Stats()["sent"])
}

func TestPublishAfterCloseIsIgnored(t *testing.T) {
	mock := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer := NewSeatEventProducerWith(mock, DefaultProducerConfig())
	require.NoError(t, producer.Close())
	require.NoError(t, producer.Close())

	producer.Publish(context.Background(), "concert-1", lockedEvent("concert-1"))
	assert.Equal(t, int64(0), producer.Stats()["dropped"])
}

func TestDecodeSeatEvent(t *testing.T) {
	payload, err := json.Marshal(lockedEvent("concert-9"))
	require.NoError(t, err)

	event, err := DecodeSeatEvent(&sarama.ConsumerMessage{Key: []byte("concert-9"), Value: payload})
	require.NoError(t, err)
	assert.Equal(t, seats.ChangeLocked, event.Type)
	assert.Equal(t, "concert-9", event.ConcertID)

	_, err = DecodeSeatEvent(&sarama.ConsumerMessage{Value: []byte("{")})
	assert.Error(t, err)
}

func TestGroupHandlerSkipsMalformed(t *testing.T) {
	var handled []seats.ChangeEvent
	h := &groupHandler{handler: func(ctx context.Context, event seats.ChangeEvent) error {
		handled = append(handled, event)
		return nil
	}}

	require.NoError(t, h.process(context.Background(), &sarama.ConsumerMessage{Value: []byte("nope")}))
	assert.Empty(t, handled)

	payload, _ := json.Marshal(lockedEvent("concert-1"))
	require.NoError(t, h.process(context.Background(), &sarama.ConsumerMessage{Value: payload}))
	assert.Len(t, handled, 1)

	failing := &groupHandler{handler: func(ctx context.Context, event seats.ChangeEvent) error {
		return errors.New("downstream unavailable")
	}}
	assert.Error(t, failing.process(context.Background(), &sarama.ConsumerMessage{Value: payload}))
}
