package seats

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConcert = "concert-1"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventLog struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (l *eventLog) Publish(ctx context.Context, concertID string, event ChangeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) types() []ChangeType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ChangeType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	clock   *clock
	events  *eventLog
	repo    *MemoryRepository
	service Service
	ids     []string
}

// newFixture seeds one concert with rows A and B of four gold seats each
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:  &clock{now: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)},
		events: &eventLog{},
		repo:   NewMemoryRepository(),
	}
	f.service = NewService(f.repo, f.events, Options{LockTTL: 10 * time.Minute, MaxSeatsPerUser: 6, Now: f.clock.Now})

	created, err := f.service.CreateSeats(context.Background(), testConcert, CreateSeatsRequest{
		Categories: []CategoryLayout{{Category: CategoryGold, Price: 100, Rows: []string{"A", "B"}, SeatsPerRow: 4}},
	})
	require.NoError(t, err)
	for _, s := range created {
		f.ids = append(f.ids, s.ID)
	}
	return f
}

func (f *fixture) seat(t *testing.T, id string) Seat {
	t.Helper()
	list, err := f.service.GetSeats(context.Background(), testConcert)
	require.NoError(t, err)
	for _, s := range list {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("seat %s not found", id)
	return Seat{}
}

func TestAcquireLocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:2])
	require.NoError(t, err)
	assert.Len(t, result.Success, 2)
	assert.Empty(t, result.FailedSeats)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), result.ExpiresAt)

	seat := f.seat(t, f.ids[0])
	assert.Equal(t, StatusReserved, seat.Status)
	require.NotNil(t, seat.LockedBy)
	assert.Equal(t, "alice", *seat.LockedBy)
	assert.Equal(t, int64(1), seat.Version)
	assert.Equal(t, []ChangeType{ChangeLocked}, f.events.types())
}

func TestAcquireLocksConflictFailsWholeBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:1])
	require.NoError(t, err)

	result, err := f.service.AcquireLocks(ctx, testConcert, "bob", f.ids[:2])
	require.ErrorIs(t, err, ErrSeatUnavailable)
	require.NotNil(t, result)
	assert.Empty(t, result.Success)
	assert.Equal(t, []string{f.ids[0]}, result.FailedSeats)
	assert.Equal(t, []string{f.ids[0]}, FailedSeatIDs(err))

	// the free seat of the rejected batch stays free
	assert.Equal(t, StatusAvailable, f.seat(t, f.ids[1]).Status)
	assert.Equal(t, []ChangeType{ChangeLocked}, f.events.types())
}

func TestAcquireLocksReportsAlreadyHeldOnConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:1])
	require.NoError(t, err)
	_, err = f.service.AcquireLocks(ctx, testConcert, "bob", f.ids[1:2])
	require.NoError(t, err)

	result, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:2])
	require.ErrorIs(t, err, ErrSeatUnavailable)
	require.Len(t, result.Success, 1)
	assert.Equal(t, f.ids[0], result.Success[0].ID)
	assert.Equal(t, []string{f.ids[1]}, result.FailedSeats)
}

func TestRelockDoesNotRefreshLockedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lockedAt := f.clock.Now()

	_, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:1])
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	result, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:1])
	require.NoError(t, err)
	require.Len(t, result.Success, 1)
	assert.Equal(t, lockedAt, *result.Success[0].LockedAt)
	assert.Equal(t, lockedAt.Add(10*time.Minute), result.ExpiresAt)

	// nothing changed, so nothing was broadcast
	assert.Equal(t, []ChangeType{ChangeLocked}, f.events.types())
}

func TestNewSeatsInheritBatchAnchor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	anchor := f.clock.Now()

	_, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:1])
	require.NoError(t, err)

	f.clock.Advance(300 * time.Second)
	result, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[1:2])
	require.NoError(t, err)
	assert.Equal(t, anchor, *result.Success[0].LockedAt)
	assert.Equal(t, anchor.Add(10*time.Minute), result.ExpiresAt)

	// both seats lapse together at anchor+TTL
	f.clock.Advance(300 * time.Second)
	assert.Equal(t, StatusAvailable, f.seat(t, f.ids[0]).Status)
	assert.Equal(t, StatusAvailable, f.seat(t, f.ids[1]).Status)
}

func TestLockExpiresExactlyAtTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:1])
	require.NoError(t, err)

	f.clock.Advance(10*time.Minute - time.Second)
	assert.Equal(t, StatusReserved, f.seat(t, f.ids[0]).Status)

	f.clock.Advance(time.Second)
	seat := f.seat(t, f.ids[0])
	assert.Equal(t, StatusAvailable, seat.Status)
	assert.Nil(t, seat.LockedBy)
	assert.Nil(t, seat.LockedAt)
	assert.Equal(t, []ChangeType{ChangeLocked, ChangeUnlocked}, f.events.types())
}

func TestExpiredSeatCanBeTakenBeforeSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:1])
	require.NoError(t, err)
	f.clock.Advance(601 * time.Second)

	result, err := f.service.AcquireLocks(ctx, testConcert, "bob", f.ids[:1])
	require.NoError(t, err)
	require.Len(t, result.Success, 1)
	assert.Equal(t, "bob", *result.Success[0].LockedBy)
	assert.Equal(t, f.clock.Now(), *result.Success[0].LockedAt)
}

func TestReleaseLocksIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:2])
	require.NoError(t, err)

	// someone else's release leaves alice's seats alone
	released, err := f.service.ReleaseLocks(ctx, testConcert, "bob", f.ids[:2])
	require.NoError(t, err)
	assert.Empty(t, released)

	released, err = f.service.ReleaseLocks(ctx, testConcert, "alice", f.ids[:2])
	require.NoError(t, err)
	assert.ElementsMatch(t, f.ids[:2], released)

	released, err = f.service.ReleaseLocks(ctx, testConcert, "alice", f.ids[:2])
	require.NoError(t, err)
	assert.Empty(t, released)

	assert.Equal(t, []ChangeType{ChangeLocked, ChangeUnlocked}, f.events.types())
	assert.Equal(t, StatusAvailable, f.seat(t, f.ids[0]).Status)
}

func TestReleaseWithoutSeatIDsReleasesWholeHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:3])
	require.NoError(t, err)

	released, err := f.service.ReleaseLocks(ctx, testConcert, "alice", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, f.ids[:3], released)
}

func TestMaxSeatsPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:6])
	require.NoError(t, err)

	_, err = f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[6:7])
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestUnknownSeat(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.AcquireLocks(context.Background(), testConcert, "alice", []string{"missing"})
	require.ErrorIs(t, err, ErrSeatNotFound)
	assert.Equal(t, []string{"missing"}, FailedSeatIDs(err))
}

func TestCommitBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:2])
	require.NoError(t, err)

	booking, err := f.service.CommitBooking(ctx, testConcert, "alice", f.ids[:2], "pay_1")
	require.NoError(t, err)
	assert.Equal(t, 200.0, booking.TotalAmount)
	assert.Equal(t, BookingStatusConfirmed, booking.Status)

	seat := f.seat(t, f.ids[0])
	assert.Equal(t, StatusBooked, seat.Status)
	require.NotNil(t, seat.BookingID)
	assert.Equal(t, booking.ID, *seat.BookingID)

	// a redelivered confirmation returns the same booking
	again, err := f.service.CommitBooking(ctx, testConcert, "alice", f.ids[:2], "pay_1")
	require.NoError(t, err)
	assert.Equal(t, booking.ID, again.ID)

	// a second payment for booked seats is refused
	_, err = f.service.CommitBooking(ctx, testConcert, "alice", f.ids[:2], "pay_2")
	assert.ErrorIs(t, err, ErrLockExpiredOrStolen)

	// booked seats never unlock
	f.clock.Advance(time.Hour)
	assert.Equal(t, StatusBooked, f.seat(t, f.ids[0]).Status)
	_, err = f.service.AcquireLocks(ctx, testConcert, "bob", f.ids[:1])
	assert.ErrorIs(t, err, ErrSeatUnavailable)

	bookings, err := f.service.ListBookings(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
	assert.Equal(t, []ChangeType{ChangeLocked, ChangeBooked}, f.events.types())
}

func TestCommitAfterExpiryFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:1])
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)

	_, err = f.service.CommitBooking(ctx, testConcert, "alice", f.ids[:1], "pay_late")
	require.ErrorIs(t, err, ErrLockExpiredOrStolen)
	assert.Equal(t, []string{f.ids[0]}, FailedSeatIDs(err))
	assert.Equal(t, CodeLockExpiredOrStolen, ErrorCode(err))
}

func TestCommitAfterStolenFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:1])
	require.NoError(t, err)
	f.clock.Advance(11 * time.Minute)
	_, err = f.service.AcquireLocks(ctx, testConcert, "bob", f.ids[:1])
	require.NoError(t, err)

	_, err = f.service.CommitBooking(ctx, testConcert, "alice", f.ids[:1], "pay_alice")
	assert.ErrorIs(t, err, ErrLockExpiredOrStolen)
}

func TestValidateHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	anchor := f.clock.Now()

	_, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:2])
	require.NoError(t, err)

	hold, err := f.service.ValidateHold(ctx, testConcert, "alice", f.ids[:2])
	require.NoError(t, err)
	assert.Equal(t, 200.0, hold.TotalAmount)
	assert.Equal(t, anchor.Add(10*time.Minute), hold.ExpiresAt)

	_, err = f.service.ValidateHold(ctx, testConcert, "alice", f.ids[:3])
	require.ErrorIs(t, err, ErrLockExpiredOrStolen)
	assert.Equal(t, []string{f.ids[2]}, FailedSeatIDs(err))
}

func TestConcurrentLocksHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const contenders = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	conflicts := 0

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := f.service.AcquireLocks(ctx, testConcert, user, f.ids[:2])
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if assert.ErrorIs(t, err, ErrSeatUnavailable) {
				conflicts++
			}
		}(fmt.Sprintf("user-%d", i))
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, contenders-1, conflicts)

	first, second := f.seat(t, f.ids[0]), f.seat(t, f.ids[1])
	assert.Equal(t, *first.LockedBy, *second.LockedBy)
}

func TestEventsCarryIncreasingVersions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:1])
	require.NoError(t, err)
	_, err = f.service.ReleaseLocks(ctx, testConcert, "alice", f.ids[:1])
	require.NoError(t, err)
	_, err = f.service.AcquireLocks(ctx, testConcert, "bob", f.ids[:1])
	require.NoError(t, err)

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.Len(t, f.events.events, 3)
	for i, event := range f.events.events {
		assert.Equal(t, testConcert, event.ConcertID)
		assert.Equal(t, int64(i+1), event.Seats[0].Version)
	}
	assert.Equal(t, "bob", *f.events.events[2].Seats[0].LockedBy)
	assert.Nil(t, f.events.events[1].Seats[0].LockedBy)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.service.CreateSeats(ctx, "concert-2", CreateSeatsRequest{
		Categories: []CategoryLayout{{Category: CategorySilver, Price: 50, Rows: []string{"Z"}, SeatsPerRow: 2}},
	})
	require.NoError(t, err)

	_, err = f.service.AcquireLocks(ctx, testConcert, "alice", f.ids[:2])
	require.NoError(t, err)
	_, err = f.service.AcquireLocks(ctx, "concert-2", "bob", []string{other[0].ID})
	require.NoError(t, err)

	released, err := f.service.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, released)

	f.clock.Advance(10 * time.Minute)
	released, err = f.service.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, released)
}

func TestPublishersFanOut(t *testing.T) {
	var a, b int
	publishers := Publishers{
		PublisherFunc(func(ctx context.Context, concertID string, event ChangeEvent) { a++ }),
		PublisherFunc(func(ctx context.Context, concertID string, event ChangeEvent) { b++ }),
	}
	publishers.Publish(context.Background(), testConcert, ChangeEvent{Type: ChangeLocked})
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
