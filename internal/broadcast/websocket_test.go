package broadcast

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"seatlock/internal/seats"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type realtimeFixture struct {
	hub     *Hub
	service seats.Service
	server  *httptest.Server
	seatIDs []string
}

func newRealtimeFixture(t *testing.T) *realtimeFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(8)
	service := seats.NewService(seats.NewMemoryRepository(), hub, seats.Options{})
	created, err := service.CreateSeats(context.Background(), "concert", seats.CreateSeatsRequest{
		Categories: []seats.CategoryLayout{{Category: seats.CategorySilver, Price: 20, Rows: []string{"A"}, SeatsPerRow: 3}},
	})
	require.NoError(t, err)

	router := gin.New()
	noAuth := func(c *gin.Context) { c.Next() }
	SetupRealtimeRoutes(router.Group(""), NewHandler(hub, service, Options{PingInterval: time.Second}), noAuth)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	ids := make([]string, len(created))
	for i, s := range created {
		ids[i] = s.ID
	}
	return &realtimeFixture{hub: hub, service: service, server: server, seatIDs: ids}
}

func (f *realtimeFixture) dial(t *testing.T, clientID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/concerts/concert?clientId=" + clientID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func frameType(frame map[string]json.RawMessage) string {
	var typ string
	_ = json.Unmarshal(frame["type"], &typ)
	return typ
}

func TestWebsocketSnapshotThenChanges(t *testing.T) {
	f := newRealtimeFixture(t)
	conn := f.dial(t, "tab-1")

	snapshot := readFrame(t, conn)
	require.Equal(t, MessageSnapshot, frameType(snapshot))
	var list []seats.Seat
	require.NoError(t, json.Unmarshal(snapshot["seats"], &list))
	assert.Len(t, list, 3)

	_, err := f.service.AcquireLocks(context.Background(), "concert", "user-1", f.seatIDs[:1])
	require.NoError(t, err)

	change := readFrame(t, conn)
	assert.Equal(t, string(seats.ChangeLocked), frameType(change))

	var changed []struct {
		ID       string  `json:"_id"`
		Status   string  `json:"status"`
		LockedBy *string `json:"lockedBy"`
	}
	require.NoError(t, json.Unmarshal(change["seats"], &changed))
	require.Len(t, changed, 1)
	assert.Equal(t, f.seatIDs[0], changed[0].ID)
	assert.Equal(t, "RESERVED", changed[0].Status)
	require.NotNil(t, changed[0].LockedBy)
	assert.Equal(t, "user-1", *changed[0].LockedBy)
}

func TestWebsocketSyncAndPing(t *testing.T) {
	f := newRealtimeFixture(t)
	conn := f.dial(t, "tab-1")
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": MessagePing}))
	assert.Equal(t, MessagePong, frameType(readFrame(t, conn)))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": MessageSync}))
	assert.Equal(t, MessageSnapshot, frameType(readFrame(t, conn)))
}

func TestWebsocketDisconnectUnsubscribes(t *testing.T) {
	f := newRealtimeFixture(t)
	conn := f.dial(t, "tab-1")
	readFrame(t, conn)
	require.Equal(t, 1, f.hub.SubscriberCount("concert"))

	conn.Close()
	assert.Eventually(t, func() bool {
		return f.hub.SubscriberCount("concert") == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSSEStreamsSnapshotFirst(t *testing.T) {
	f := newRealtimeFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/seats/concert/concert/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event:"+MessageSnapshot, strings.TrimSpace(line))
}
