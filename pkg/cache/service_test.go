package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seatRow struct {
	ID     string `json:"_id"`
	Status string `json:"status"`
}

func newTestCache(t *testing.T) (*miniredis.Miniredis, Service) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewService(client)
}

func TestGetMiss(t *testing.T) {
	_, c := newTestCache(t)

	var dest []seatRow
	err := c.Get(context.Background(), "missing", &dest)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestSetGet(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "seats:1", []seatRow{{ID: "a", Status: "AVAILABLE"}}, 30*time.Second))
	assert.Equal(t, 30*time.Second, mr.TTL("seats:1"))

	var dest []seatRow
	require.NoError(t, c.Get(ctx, "seats:1", &dest))
	assert.Equal(t, []seatRow{{ID: "a", Status: "AVAILABLE"}}, dest)
}

func TestGetOrSet(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	calls := 0
	fetch := func() (interface{}, error) {
		calls++
		return []seatRow{{ID: "a", Status: "RESERVED"}}, nil
	}

	var first, second []seatRow
	require.NoError(t, c.GetOrSet(ctx, "seats:1", time.Minute, fetch, &first))
	require.NoError(t, c.GetOrSet(ctx, "seats:1", time.Minute, fetch, &second))
	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)

	require.NoError(t, c.Delete(ctx, "seats:1"))
	require.NoError(t, c.GetOrSet(ctx, "seats:1", time.Minute, fetch, &second))
	assert.Equal(t, 2, calls)
}

func TestGetOrSetFetcherError(t *testing.T) {
	_, c := newTestCache(t)
	boom := errors.New("db down")

	var dest []seatRow
	err := c.GetOrSet(context.Background(), "seats:1", time.Minute, func() (interface{}, error) {
		return nil, boom
	}, &dest)
	assert.ErrorIs(t, err, boom)
}

func TestDeletePattern(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("seatlock:seats:concert:%d", i), "x"))
	}
	require.NoError(t, mr.Set("seatlock:ratelimit:1.2.3.4:public", "keep"))

	require.NoError(t, c.DeletePattern(ctx, "seatlock:seats:concert:*"))
	assert.Equal(t, []string{"seatlock:ratelimit:1.2.3.4:public"}, mr.Keys())
	assert.NoError(t, c.Ping(ctx))
}

func TestCounter(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	n, err := c.Counter(ctx, "seatlock:seats:generation:c1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for want := int64(1); want <= 3; want++ {
		n, err = c.Incr(ctx, "seatlock:seats:generation:c1")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	n, err = c.Counter(ctx, "seatlock:seats:generation:c1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
