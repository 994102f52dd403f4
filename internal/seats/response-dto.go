package seats

import "time"

// LockSeatsResponse mirrors LockResult on the wire; both lists are always present
type LockSeatsResponse struct {
	Success     []Seat     `json:"success"`
	FailedSeats []string   `json:"failedSeats"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	TTLSeconds  int        `json:"ttlSeconds"`
}

func newLockSeatsResponse(result *LockResult, ttl time.Duration) LockSeatsResponse {
	resp := LockSeatsResponse{
		Success:     []Seat{},
		FailedSeats: []string{},
		TTLSeconds:  int(ttl.Seconds()),
	}
	if result == nil {
		return resp
	}
	if result.Success != nil {
		resp.Success = result.Success
	}
	if result.FailedSeats != nil {
		resp.FailedSeats = result.FailedSeats
	}
	if !result.ExpiresAt.IsZero() {
		expiresAt := result.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	return resp
}

type UnlockSeatsResponse struct {
	Released []string `json:"released"`
}

// SeatMapResponse is the payload of GET /seats/concert/:concertId
type SeatMapResponse struct {
	ConcertID  string    `json:"concertId"`
	Seats      []Seat    `json:"seats"`
	ServerTime time.Time `json:"serverTime"`
	TTLSeconds int       `json:"ttlSeconds"`
}

type CreateSeatsResponse struct {
	ConcertID string `json:"concertId"`
	Created   int    `json:"created"`
	Seats     []Seat `json:"seats"`
}
