package seats

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status is the reservation state of a seat
type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusReserved  Status = "RESERVED"
	StatusBooked    Status = "BOOKED"
)

// Category is the pricing tier of a seat
type Category string

const (
	CategoryPlatinum Category = "platinum"
	CategoryGold     Category = "gold"
	CategorySilver   Category = "silver"
)

// IsValid reports whether c is one of the known tiers
func (c Category) IsValid() bool {
	switch c {
	case CategoryPlatinum, CategoryGold, CategorySilver:
		return true
	}
	return false
}

// Seat is one seat of a concert together with its lock fields.
// LockedBy and LockedAt are only meaningful while Status is RESERVED.
type Seat struct {
	ID         string     `gorm:"type:uuid;primaryKey" json:"_id"`
	ConcertID  string     `gorm:"type:uuid;not null;index:idx_seats_concert;uniqueIndex:idx_seats_position" json:"concertId"`
	Row        string     `gorm:"type:varchar(8);not null;uniqueIndex:idx_seats_position" json:"row"`
	Column     int        `gorm:"column:seat_column;not null;uniqueIndex:idx_seats_position" json:"column"`
	SeatNumber string     `gorm:"type:varchar(16);not null" json:"seatNumber"`
	Category   Category   `gorm:"type:varchar(16);not null" json:"seatType"`
	Price      float64    `gorm:"type:decimal(10,2);not null" json:"price"`
	Status     Status     `gorm:"type:varchar(16);not null;default:'AVAILABLE';index:idx_seats_status" json:"status"`
	LockedBy   *string    `gorm:"type:varchar(64)" json:"lockedBy"`
	LockedAt   *time.Time `gorm:"index:idx_seats_locked_at" json:"lockedAt"`
	BookingID  *string    `gorm:"type:uuid" json:"bookingId,omitempty"`
	Version    int64      `gorm:"not null;default:0" json:"version"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (Seat) TableName() string {
	return "seats"
}

func (s *Seat) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// HeldBy reports whether userID holds a lock on the seat that is still valid at now
func (s *Seat) HeldBy(userID string, now time.Time, ttl time.Duration) bool {
	return s.Status == StatusReserved && s.LockedBy != nil && *s.LockedBy == userID && !s.LockExpired(now, ttl)
}

// LockExpired reports whether a RESERVED seat has outlived its TTL
func (s *Seat) LockExpired(now time.Time, ttl time.Duration) bool {
	if s.Status != StatusReserved {
		return false
	}
	if s.LockedAt == nil {
		return true
	}
	return !now.Before(s.LockedAt.Add(ttl))
}

// ExpiresAt returns when the seat lock lapses, or the zero time if the seat is not locked
func (s *Seat) ExpiresAt(ttl time.Duration) time.Time {
	if s.Status != StatusReserved || s.LockedAt == nil {
		return time.Time{}
	}
	return s.LockedAt.Add(ttl)
}

func (s *Seat) lock(userID string, at time.Time) {
	holder := userID
	lockedAt := at
	s.Status = StatusReserved
	s.LockedBy = &holder
	s.LockedAt = &lockedAt
	s.Version++
}

func (s *Seat) unlock() {
	s.Status = StatusAvailable
	s.LockedBy = nil
	s.LockedAt = nil
	s.Version++
}

func (s *Seat) book(bookingID string) {
	id := bookingID
	s.Status = StatusBooked
	s.LockedBy = nil
	s.LockedAt = nil
	s.BookingID = &id
	s.Version++
}

// BookingStatus is the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

// Booking is the record attached to seats on a successful payment
type Booking struct {
	ID          string        `gorm:"type:uuid;primaryKey" json:"id"`
	ConcertID   string        `gorm:"type:uuid;not null;index" json:"concertId"`
	UserID      string        `gorm:"type:varchar(64);not null;index" json:"userId"`
	SeatIDs     []string      `gorm:"serializer:json;type:text;not null" json:"seatIds"`
	TotalAmount float64       `gorm:"type:decimal(10,2);not null" json:"totalAmount"`
	PaymentRef  string        `gorm:"type:varchar(128);uniqueIndex;not null" json:"paymentRef"`
	Status      BookingStatus `gorm:"type:varchar(16);not null" json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
}

func (Booking) TableName() string {
	return "bookings"
}

// ChangeType names the kind of seat change carried by a ChangeEvent
type ChangeType string

const (
	ChangeLocked   ChangeType = "LOCKED"
	ChangeUnlocked ChangeType = "UNLOCKED"
	ChangeBooked   ChangeType = "BOOKED"
)

// SeatChange is the per-seat payload of a ChangeEvent
type SeatChange struct {
	ID       string     `json:"_id"`
	Status   Status     `json:"status"`
	LockedBy *string    `json:"lockedBy"`
	LockedAt *time.Time `json:"lockedAt,omitempty"`
	Version  int64      `json:"version"`
}

// ChangeEvent is published on the concert topic after every applied mutation
type ChangeEvent struct {
	Type      ChangeType   `json:"type"`
	ConcertID string       `json:"concertId"`
	UserID    string       `json:"userId,omitempty"`
	Seats     []SeatChange `json:"seats"`
	At        time.Time    `json:"at"`
}

// SeatIDs lists the ids touched by the event
func (e ChangeEvent) SeatIDs() []string {
	ids := make([]string, len(e.Seats))
	for i, s := range e.Seats {
		ids[i] = s.ID
	}
	return ids
}

func newChangeEvent(t ChangeType, concertID, userID string, seats []Seat, at time.Time) ChangeEvent {
	changes := make([]SeatChange, len(seats))
	for i, s := range seats {
		changes[i] = SeatChange{
			ID:       s.ID,
			Status:   s.Status,
			LockedBy: s.LockedBy,
			LockedAt: s.LockedAt,
			Version:  s.Version,
		}
	}
	return ChangeEvent{Type: t, ConcertID: concertID, UserID: userID, Seats: changes, At: at}
}

// LockResult is the outcome of AcquireLocks
type LockResult struct {
	Success     []Seat    `json:"success"`
	FailedSeats []string  `json:"failedSeats"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty"`
}

// Hold describes the seats a user currently holds in a concert
type Hold struct {
	ConcertID   string    `json:"concertId"`
	UserID      string    `json:"userId"`
	Seats       []Seat    `json:"seats"`
	TotalAmount float64   `json:"totalAmount"`
	AnchorAt    time.Time `json:"anchorAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}
