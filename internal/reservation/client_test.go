package reservation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"seatlock/internal/broadcast"
	"seatlock/internal/seats"
	"seatlock/internal/shared/config"
	"seatlock/internal/shared/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type serverFixture struct {
	hub     *broadcast.Hub
	service seats.Service
	server  *httptest.Server
	ids     []string
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := broadcast.NewHub(16)
	service := seats.NewService(seats.NewMemoryRepository(), hub, seats.Options{})
	created, err := service.CreateSeats(context.Background(), concertID, seats.CreateSeatsRequest{
		Categories: []seats.CategoryLayout{{Category: seats.CategoryPlatinum, Price: 250, Rows: []string{"A"}, SeatsPerRow: 3}},
	})
	require.NoError(t, err)

	cfg := &config.Config{JWT: config.JWTConfig{Secret: testSecret}}
	router := gin.New()
	api := router.Group("/api/v1")
	seats.SetupSeatRoutes(api, seats.NewController(service), middleware.JWTAuthWithConfig(cfg))
	broadcast.SetupRealtimeRoutes(api, broadcast.NewHandler(hub, service, broadcast.Options{}), middleware.OptionalAuthWithConfig(cfg))

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	ids := make([]string, len(created))
	for i, seat := range created {
		ids[i] = seat.ID
	}
	return &serverFixture{hub: hub, service: service, server: server, ids: ids}
}

func (f *serverFixture) client(t *testing.T, userID string) *Client {
	t.Helper()
	token, err := middleware.NewAccessToken(testSecret, userID, userID+"@example.com", middleware.RoleUser)
	require.NoError(t, err)
	return NewClient(f.server.URL+"/api/v1", token, 5*time.Second)
}

func TestClientLockAndUnlock(t *testing.T) {
	f := newServerFixture(t)
	alice := f.client(t, "alice")
	ctx := context.Background()

	seatMap, err := alice.GetSeats(ctx, concertID)
	require.NoError(t, err)
	assert.Len(t, seatMap.Seats, 3)
	assert.Equal(t, 600, seatMap.TTLSeconds)
	assert.False(t, seatMap.ServerTime.IsZero())

	result, err := alice.LockSeats(ctx, concertID, []string{f.ids[0]})
	require.NoError(t, err)
	require.Len(t, result.Success, 1)
	assert.Empty(t, result.FailedSeats)
	assert.False(t, result.ExpiresAt.IsZero())

	released, err := alice.UnlockSeats(ctx, concertID, []string{f.ids[0]})
	require.NoError(t, err)
	assert.Equal(t, []string{f.ids[0]}, released)

	// releasing again is a no-op, not an error
	released, err = alice.UnlockSeats(ctx, concertID, []string{f.ids[0]})
	require.NoError(t, err)
	assert.Empty(t, released)
}

func TestClientLockConflict(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	_, err := f.client(t, "alice").LockSeats(ctx, concertID, []string{f.ids[0]})
	require.NoError(t, err)

	result, err := f.client(t, "bob").LockSeats(ctx, concertID, []string{f.ids[0]})
	require.ErrorIs(t, err, seats.ErrSeatUnavailable)
	assert.Equal(t, []string{f.ids[0]}, seats.FailedSeatIDs(err))
	require.NotNil(t, result)
	assert.Equal(t, []string{f.ids[0]}, result.FailedSeats)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.StatusCode)
}

func TestClientUnauthorized(t *testing.T) {
	f := newServerFixture(t)
	anonymous := NewClient(f.server.URL+"/api/v1", "", time.Second)

	_, err := anonymous.LockSeats(context.Background(), concertID, []string{f.ids[0]})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)
}

func TestClientSubscribeReceivesChanges(t *testing.T) {
	f := newServerFixture(t)
	alice := f.client(t, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := alice.Subscribe(ctx, concertID, "tab-1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.hub.SubscriberCount(concertID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err = f.service.AcquireLocks(context.Background(), concertID, "bob", []string{f.ids[1]})
	require.NoError(t, err)

	select {
	case event := <-events:
		assert.Equal(t, seats.ChangeLocked, event.Type)
		assert.Equal(t, []string{f.ids[1]}, event.SeatIDs())
	case <-time.After(2 * time.Second):
		t.Fatal("no change event received")
	}

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientSubscribeEndsWhenServerDrops(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	baseline := runtime.NumGoroutine()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := NewClient(server.URL+"/api/v1", "", time.Second).Subscribe(ctx, concertID, "tab-1")
	require.NoError(t, err)

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("event stream stayed open after the server dropped it")
	}

	// nothing keeps waiting on ctx once the stream is gone
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	alice := f.client(t, "alice")

	session := NewSession(alice, concertID, "alice", Options{})
	require.NoError(t, session.Mount(context.Background()))
	require.NoError(t, session.Toggle(f.ids[2]))
	require.NoError(t, session.Lock(context.Background()))

	view := session.Snapshot()
	assert.Equal(t, StateLocked, view.State)
	assert.Equal(t, 250.0, view.Total)
	assert.InDelta(t, 600, view.Remaining, 2)

	require.NoError(t, session.Release(context.Background()))
	assert.Equal(t, StateIdle, session.State())
}
