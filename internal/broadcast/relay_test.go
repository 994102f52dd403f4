package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayForwardsBetweenInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		return client
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hubA, hubB := NewHub(8), NewHub(8)
	relayA := NewRelay(newClient(), hubA, "instance-a", 8)
	relayB := NewRelay(newClient(), hubB, "instance-b", 8)
	require.NoError(t, relayA.Start(ctx))
	require.NoError(t, relayB.Start(ctx))
	defer relayA.Stop()
	defer relayB.Stop()

	subA := hubA.Subscribe("concert", "viewer-a")
	subB := hubB.Subscribe("concert", "viewer-b")

	// instance A applies a change: its hub delivers locally, the relay ships it to B
	event := lockedEvent("concert", "S1")
	hubA.Publish(ctx, "concert", event)
	relayA.Publish(ctx, "concert", event)

	got := receive(t, subB)
	assert.Equal(t, []string{"S1"}, got.SeatIDs())
	assert.Equal(t, "concert", got.ConcertID)

	assert.Equal(t, "S1", receive(t, subA).Seats[0].ID)
	select {
	case dup := <-subA.Events():
		t.Fatalf("instance delivered its own relayed event twice: %+v", dup)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRelayStopIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	relay := NewRelay(client, NewHub(1), "instance", 1)
	require.NoError(t, relay.Start(context.Background()))
	relay.Stop()
	relay.Stop()
}
