package seats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Scope selects the seats a Mutate call operates on.
// An empty SeatIDs with an empty Holder selects every seat of the concert.
type Scope struct {
	ConcertID    string
	SeatIDs      []string
	Holder       string // also include seats whose lock belongs to this user
	ReservedOnly bool
}

// Mutation is what a MutateFunc asks the repository to persist.
// Every seat in Seats must carry the version it had when read, plus one.
type Mutation struct {
	Seats   []Seat
	Booking *Booking
}

// MutateFunc inspects the current state of the scoped seats and returns the changes to apply.
// Returning an error aborts the mutation without writing anything.
type MutateFunc func(current []Seat) (*Mutation, error)

type Repository interface {
	ListSeats(ctx context.Context, concertID string) ([]Seat, error)
	CreateSeats(ctx context.Context, seats []Seat) error

	// Mutate runs fn over the scoped seats inside a single-writer section and
	// persists the returned seats with a version-guarded conditional update.
	Mutate(ctx context.Context, scope Scope, fn MutateFunc) error

	ExpiredConcerts(ctx context.Context, cutoff time.Time) ([]string, error)
	BookingByPaymentRef(ctx context.Context, paymentRef string) (*Booking, error)
	ListBookings(ctx context.Context, userID string) ([]Booking, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) ListSeats(ctx context.Context, concertID string) ([]Seat, error) {
	var seats []Seat
	err := r.db.WithContext(ctx).
		Where("concert_id = ?", concertID).
		Order("row ASC, seat_column ASC").
		Find(&seats).Error
	return seats, err
}

func (r *repository) CreateSeats(ctx context.Context, seats []Seat) error {
	if len(seats) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&seats, 200).Error
}

func (r *repository) Mutate(ctx context.Context, scope Scope, fn MutateFunc) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current []Seat

		// Row locks are taken in id order so two batches over overlapping seats cannot deadlock
		query := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("concert_id = ?", scope.ConcertID)
		switch {
		case len(scope.SeatIDs) > 0 && scope.Holder != "":
			query = query.Where("(id IN ? OR locked_by = ?)", scope.SeatIDs, scope.Holder)
		case len(scope.SeatIDs) > 0:
			query = query.Where("id IN ?", scope.SeatIDs)
		case scope.Holder != "":
			query = query.Where("locked_by = ?", scope.Holder)
		}
		if scope.ReservedOnly {
			query = query.Where("status = ?", StatusReserved)
		}
		if err := query.Order("id ASC").Find(&current).Error; err != nil {
			return fmt.Errorf("failed to load seats for update: %w", err)
		}

		mutation, err := fn(current)
		if err != nil {
			return err
		}
		if mutation == nil {
			return nil
		}

		for _, seat := range mutation.Seats {
			result := tx.Model(&Seat{}).
				Where("id = ? AND version = ?", seat.ID, seat.Version-1).
				Updates(map[string]interface{}{
					"status":     seat.Status,
					"locked_by":  seat.LockedBy,
					"locked_at":  seat.LockedAt,
					"booking_id": seat.BookingID,
					"version":    seat.Version,
				})
			if result.Error != nil {
				return fmt.Errorf("failed to update seat %s: %w", seat.ID, result.Error)
			}
			if result.RowsAffected == 0 {
				return newSeatError(ErrConcurrentUpdate, []string{seat.ID})
			}
		}

		if mutation.Booking != nil {
			if err := tx.Create(mutation.Booking).Error; err != nil {
				return fmt.Errorf("failed to create booking: %w", err)
			}
		}
		return nil
	})
}

func (r *repository) ExpiredConcerts(ctx context.Context, cutoff time.Time) ([]string, error) {
	var concertIDs []string
	err := r.db.WithContext(ctx).
		Model(&Seat{}).
		Distinct("concert_id").
		Where("status = ? AND locked_at <= ?", StatusReserved, cutoff).
		Pluck("concert_id", &concertIDs).Error
	return concertIDs, err
}

func (r *repository) BookingByPaymentRef(ctx context.Context, paymentRef string) (*Booking, error) {
	var booking Booking
	err := r.db.WithContext(ctx).First(&booking, "payment_ref = ?", paymentRef).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &booking, nil
}

func (r *repository) ListBookings(ctx context.Context, userID string) ([]Booking, error) {
	var bookings []Booking
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&bookings).Error
	return bookings, err
}
