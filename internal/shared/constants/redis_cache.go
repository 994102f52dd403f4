package constants

import (
	"strconv"
	"time"
)

// Redis keys and channels used by the seat locking service.
// Pattern: seatlock:{module}:{operation}:{identifier}

const (
	CACHE_PREFIX = "seatlock"
)

// ================== CACHE TTL DURATIONS ==================

const (
	TTL_REALTIME_MEDIUM = 1 * time.Minute  // 1 minute
	TTL_REALTIME_SHORT  = 30 * time.Second // 30 seconds - for live seat maps
)

// ================== SEATS MODULE ==================

const (
	CACHE_KEY_SEAT_MAP = CACHE_PREFIX + ":seats:concert:" // + concert-id:generation

	// Bumped by every seat mutation; maps cached under an older generation are never read again
	KEY_SEAT_MAP_GENERATION = CACHE_PREFIX + ":seats:generation:" // + concert-id

	// Every mutation deletes the key, the TTL only bounds damage from a missed delete
	TTL_SEAT_MAP = TTL_REALTIME_SHORT
)

// ================== BROADCAST ==================

const (
	CHANNEL_SEAT_EVENTS         = CACHE_PREFIX + ":seat-events:" // + concert-id
	CHANNEL_SEAT_EVENTS_PATTERN = CHANNEL_SEAT_EVENTS + "*"
)

// ================== RATE LIMIT ==================

const (
	KEY_RATE_LIMIT = CACHE_PREFIX + ":ratelimit:" // + ip:type
)

func BuildSeatMapKey(concertID string, generation int64) string {
	return CACHE_KEY_SEAT_MAP + concertID + ":" + strconv.FormatInt(generation, 10)
}

func BuildSeatMapGenerationKey(concertID string) string {
	return KEY_SEAT_MAP_GENERATION + concertID
}

func BuildSeatEventsChannel(concertID string) string {
	return CHANNEL_SEAT_EVENTS + concertID
}

func BuildRateLimitKey(clientIP, limitType string) string {
	return KEY_RATE_LIMIT + clientIP + ":" + limitType
}
