package seats

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSeatUnavailable     = errors.New("seat unavailable")
	ErrLockExpiredOrStolen = errors.New("lock expired or stolen")
	ErrSeatNotFound        = errors.New("seat not found")
	ErrConcurrentUpdate    = errors.New("seat modified concurrently")
	ErrInvalidRequest      = errors.New("invalid seat request")
	ErrBookingNotFound     = errors.New("booking not found")
)

// SeatError carries the seat ids that caused a lock or commit to fail.
// It unwraps to one of the sentinel errors above.
type SeatError struct {
	Kind    error
	SeatIDs []string
}

func (e *SeatError) Error() string {
	if len(e.SeatIDs) == 0 {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), strings.Join(e.SeatIDs, ", "))
}

func (e *SeatError) Unwrap() error {
	return e.Kind
}

func newSeatError(kind error, ids []string) *SeatError {
	return &SeatError{Kind: kind, SeatIDs: ids}
}

// FailedSeatIDs extracts the offending seat ids from err, if any
func FailedSeatIDs(err error) []string {
	var seatErr *SeatError
	if errors.As(err, &seatErr) {
		return seatErr.SeatIDs
	}
	return nil
}

// Error codes carried in the data of error responses so remote callers can
// rebuild the sentinel with ErrorFromCode.
const (
	CodeSeatUnavailable     = "SEAT_UNAVAILABLE"
	CodeLockExpiredOrStolen = "LOCK_EXPIRED_OR_STOLEN"
	CodeSeatNotFound        = "SEAT_NOT_FOUND"
	CodeConcurrentUpdate    = "CONCURRENT_UPDATE"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeBookingNotFound     = "BOOKING_NOT_FOUND"
	CodeInternal            = "INTERNAL"
)

var codes = []struct {
	code string
	err  error
}{
	{CodeSeatUnavailable, ErrSeatUnavailable},
	{CodeLockExpiredOrStolen, ErrLockExpiredOrStolen},
	{CodeSeatNotFound, ErrSeatNotFound},
	{CodeConcurrentUpdate, ErrConcurrentUpdate},
	{CodeInvalidRequest, ErrInvalidRequest},
	{CodeBookingNotFound, ErrBookingNotFound},
}

func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// ErrorFromCode returns the sentinel for code, or nil for unknown codes
func ErrorFromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
