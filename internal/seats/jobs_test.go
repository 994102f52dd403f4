package seats

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLease(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	lease := NewRedisLease(client, "test")

	acquired, err := lease.TryAcquire(ctx, "sweeper", "node-a", time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.Equal(t, "node-a", mustGet(t, mr, "test:lease:sweeper"))

	acquired, err = lease.TryAcquire(ctx, "sweeper", "node-b", time.Second)
	require.NoError(t, err)
	assert.False(t, acquired)

	// the owner can extend its own lease
	acquired, err = lease.TryAcquire(ctx, "sweeper", "node-a", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.Equal(t, 5*time.Second, mr.TTL("test:lease:sweeper"))

	// release by a non-owner is a no-op
	require.NoError(t, lease.Release(ctx, "sweeper", "node-b"))
	assert.True(t, mr.Exists("test:lease:sweeper"))

	require.NoError(t, lease.Release(ctx, "sweeper", "node-a"))
	assert.False(t, mr.Exists("test:lease:sweeper"))

	acquired, err = lease.TryAcquire(ctx, "sweeper", "node-b", time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRedisLeaseExpires(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	lease := NewRedisLease(client, "test")
	require.NoError(t, lease.PreloadScripts(ctx))

	acquired, err := lease.TryAcquire(ctx, "sweeper", "node-a", time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	mr.FastForward(2 * time.Second)

	acquired, err = lease.TryAcquire(ctx, "sweeper", "node-b", time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestLocalLease(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	lease := NewLocalLease()
	lease.now = func() time.Time { return now }

	ok, _ := lease.TryAcquire(ctx, "sweeper", "a", time.Second)
	assert.True(t, ok)
	ok, _ = lease.TryAcquire(ctx, "sweeper", "b", time.Second)
	assert.False(t, ok)

	now = now.Add(time.Second)
	ok, _ = lease.TryAcquire(ctx, "sweeper", "b", time.Second)
	assert.True(t, ok)

	require.NoError(t, lease.Release(ctx, "sweeper", "a"))
	ok, _ = lease.TryAcquire(ctx, "sweeper", "a", time.Second)
	assert.False(t, ok)
}

func TestJobProcessorRunOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, client := newTestRedis(t)

	_, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:2])
	require.NoError(t, err)

	lease := NewRedisLease(client, "test")
	jobs := NewJobProcessor(f.service, lease, &JobConfig{SweepInterval: time.Minute, InstanceID: "node-a"})
	other := NewJobProcessor(f.service, lease, &JobConfig{SweepInterval: time.Minute, InstanceID: "node-b"})

	assert.Zero(t, jobs.RunOnce(ctx))

	f.clock.Advance(10 * time.Minute)
	assert.Zero(t, other.RunOnce(ctx), "lease is held by node-a")
	assert.Equal(t, 2, jobs.RunOnce(ctx))
	assert.Equal(t, []ChangeType{ChangeLocked, ChangeUnlocked}, f.events.types())

	jobs.Stop()
	jobs.Stop()
	assert.Equal(t, "stopped", jobs.GetJobStatus()["status"])

	// stopping released the lease
	assert.Zero(t, other.RunOnce(ctx))
	acquired, err := lease.TryAcquire(ctx, sweepLeaseName, "node-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestJobProcessorLoop(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:1])
	require.NoError(t, err)
	f.clock.Advance(11 * time.Minute)

	jobs := NewJobProcessor(f.service, nil, &JobConfig{SweepInterval: 10 * time.Millisecond, InstanceID: "local"})
	jobs.Start(ctx)
	defer jobs.Stop()

	assert.Eventually(t, func() bool {
		return len(f.events.types()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "running", jobs.GetJobStatus()["status"])
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	value, err := mr.Get(key)
	require.NoError(t, err)
	return value
}
