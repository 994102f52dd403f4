package seats

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps seats in process memory. A single mutex makes every
// Mutate call a critical section, which is what the postgres row locks give
// the gorm repository.
type MemoryRepository struct {
	mu       sync.Mutex
	seats    map[string]map[string]Seat // concertID -> seatID -> seat
	bookings map[string]Booking         // paymentRef -> booking
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		seats:    make(map[string]map[string]Seat),
		bookings: make(map[string]Booking),
	}
}

func (r *MemoryRepository) ListSeats(ctx context.Context, concertID string) ([]Seat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]Seat, 0, len(r.seats[concertID]))
	for _, s := range r.seats[concertID] {
		list = append(list, s)
	}
	sortSeats(list)
	return list, nil
}

func (r *MemoryRepository) CreateSeats(ctx context.Context, seats []Seat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for _, s := range seats {
		if r.seats[s.ConcertID] == nil {
			r.seats[s.ConcertID] = make(map[string]Seat)
		}
		if s.Status == "" {
			s.Status = StatusAvailable
		}
		s.CreatedAt, s.UpdatedAt = now, now
		r.seats[s.ConcertID][s.ID] = s
	}
	return nil
}

func (r *MemoryRepository) Mutate(ctx context.Context, scope Scope, fn MutateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[string]bool, len(scope.SeatIDs))
	for _, id := range scope.SeatIDs {
		wanted[id] = true
	}

	var current []Seat
	for _, s := range r.seats[scope.ConcertID] {
		if scope.ReservedOnly && s.Status != StatusReserved {
			continue
		}
		heldByScope := scope.Holder != "" && s.LockedBy != nil && *s.LockedBy == scope.Holder
		if (len(scope.SeatIDs) > 0 || scope.Holder != "") && !wanted[s.ID] && !heldByScope {
			continue
		}
		current = append(current, s)
	}
	sort.Slice(current, func(i, j int) bool { return current[i].ID < current[j].ID })

	mutation, err := fn(current)
	if err != nil || mutation == nil {
		return err
	}

	for _, s := range mutation.Seats {
		stored, ok := r.seats[scope.ConcertID][s.ID]
		if !ok || stored.Version != s.Version-1 {
			return newSeatError(ErrConcurrentUpdate, []string{s.ID})
		}
	}
	if mutation.Booking != nil {
		if _, exists := r.bookings[mutation.Booking.PaymentRef]; exists {
			return ErrInvalidRequest
		}
	}

	now := time.Now().UTC()
	for _, s := range mutation.Seats {
		s.UpdatedAt = now
		r.seats[scope.ConcertID][s.ID] = s
	}
	if mutation.Booking != nil {
		r.bookings[mutation.Booking.PaymentRef] = *mutation.Booking
	}
	return nil
}

func (r *MemoryRepository) ExpiredConcerts(ctx context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var concertIDs []string
	for concertID, seats := range r.seats {
		for _, s := range seats {
			if s.Status == StatusReserved && s.LockedAt != nil && !s.LockedAt.After(cutoff) {
				concertIDs = append(concertIDs, concertID)
				break
			}
		}
	}
	sort.Strings(concertIDs)
	return concertIDs, nil
}

func (r *MemoryRepository) BookingByPaymentRef(ctx context.Context, paymentRef string) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[paymentRef]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (r *MemoryRepository) ListBookings(ctx context.Context, userID string) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var list []Booking
	for _, b := range r.bookings {
		if b.UserID == userID {
			list = append(list, b)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func sortSeats(list []Seat) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Row != list[j].Row {
			return list[i].Row < list[j].Row
		}
		if list[i].Column != list[j].Column {
			return list[i].Column < list[j].Column
		}
		return list[i].ID < list[j].ID
	})
}
