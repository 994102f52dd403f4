package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg *Config) *RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, cfg)
}

func testConfig() *Config {
	return &Config{
		Enabled:          true,
		WindowDuration:   time.Minute,
		DefaultRequests:  10,
		PublicRequests:   5,
		SeatLockRequests: 2,
		PaymentRequests:  3,
		AdminRequests:    10,
		RealtimeRequests: 3,
		HealthRequests:   100,
		WhitelistedIPs:   []string{"10.0.0.1"},
	}
}

func TestIsAllowedWindow(t *testing.T) {
	limiter := newTestLimiter(t, testConfig())
	ctx := context.Background()

	first, err := limiter.IsAllowed(ctx, "1.2.3.4", RateLimitTypeSeatLock)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)

	second, err := limiter.IsAllowed(ctx, "1.2.3.4", RateLimitTypeSeatLock)
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	third, err := limiter.IsAllowed(ctx, "1.2.3.4", RateLimitTypeSeatLock)
	require.NoError(t, err)
	assert.False(t, third.Allowed)

	// limits are tracked per client and per route class
	other, err := limiter.IsAllowed(ctx, "5.6.7.8", RateLimitTypeSeatLock)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	public, err := limiter.IsAllowed(ctx, "1.2.3.4", RateLimitTypePublic)
	require.NoError(t, err)
	assert.True(t, public.Allowed)
	assert.Equal(t, 5, public.Limit)
}

func TestWhitelistAndDisabled(t *testing.T) {
	cfg := testConfig()
	limiter := newTestLimiter(t, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.IsAllowed(ctx, "10.0.0.1", RateLimitTypeSeatLock)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	cfg.Enabled = false
	for i := 0; i < 5; i++ {
		result, err := limiter.IsAllowed(ctx, "1.2.3.4", RateLimitTypeSeatLock)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}
}

func TestGetRateLimitType(t *testing.T) {
	tests := []struct {
		path string
		want RateLimitType
	}{
		{"/health", RateLimitTypeHealth},
		{"/api/v1/seats/lock", RateLimitTypeSeatLock},
		{"/api/v1/seats/unlock", RateLimitTypeSeatLock},
		{"/api/v1/seats/concert/:concertId", RateLimitTypePublic},
		{"/api/v1/admin/seats/concert/:concertId", RateLimitTypeAdmin},
		{"/api/v1/payments/checkout", RateLimitTypePayment},
		{"/api/v1/payments/webhook", RateLimitTypeHealth},
		{"/api/v1/ws/concerts/:concertId", RateLimitTypeRealtime},
		{"/api/v1/seats/concert/:concertId/stream", RateLimitTypeRealtime},
		{"/api/v1/bookings/me", RateLimitTypePublic},
		{"/unknown", RateLimitTypeDefault},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, getRateLimitType(tt.path))
		})
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := newTestLimiter(t, testConfig())

	router := gin.New()
	router.Use(Middleware(limiter))
	router.POST("/api/v1/seats/lock", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/seats/lock", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
