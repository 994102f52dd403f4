package seats

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"seatlock/internal/shared/constants"
	"seatlock/pkg/cache"
	"seatlock/pkg/logger"

	"github.com/google/uuid"
)

// Publisher receives every change the lock manager applies. Implementations
// must not block: a slow subscriber may lose events, never stall a lock.
type Publisher interface {
	Publish(ctx context.Context, concertID string, event ChangeEvent)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, concertID string, event ChangeEvent)

func (f PublisherFunc) Publish(ctx context.Context, concertID string, event ChangeEvent) {
	f(ctx, concertID, event)
}

// Publishers fans one event out to several publishers in order
type Publishers []Publisher

func (p Publishers) Publish(ctx context.Context, concertID string, event ChangeEvent) {
	for _, pub := range p {
		if pub != nil {
			pub.Publish(ctx, concertID, event)
		}
	}
}

// Options tunes the lock manager
type Options struct {
	LockTTL         time.Duration
	MaxSeatsPerUser int
	Now             func() time.Time
}

func DefaultOptions() Options {
	return Options{
		LockTTL:         10 * time.Minute,
		MaxSeatsPerUser: 6,
		Now:             func() time.Time { return time.Now().UTC() },
	}
}

// Service is the lock manager: the only component that mutates seat
// reservation state. At most one non-expired holder exists per seat.
type Service interface {
	GetSeats(ctx context.Context, concertID string) ([]Seat, error)
	CreateSeats(ctx context.Context, concertID string, req CreateSeatsRequest) ([]Seat, error)

	AcquireLocks(ctx context.Context, concertID, userID string, seatIDs []string) (*LockResult, error)
	ReleaseLocks(ctx context.Context, concertID, userID string, seatIDs []string) ([]string, error)
	ExpireLocks(ctx context.Context, concertID string) ([]string, error)
	CommitBooking(ctx context.Context, concertID, userID string, seatIDs []string, paymentRef string) (*Booking, error)

	ValidateHold(ctx context.Context, concertID, userID string, seatIDs []string) (*Hold, error)
	GetHold(ctx context.Context, concertID, userID string) (*Hold, error)
	ListBookings(ctx context.Context, userID string) ([]Booking, error)

	// SweepExpired expires every lapsed lock across all concerts and returns how many seats it released
	SweepExpired(ctx context.Context) (int, error)
	LockTTL() time.Duration

	SetCacheService(cacheService cache.Service)
}

type service struct {
	repo         Repository
	publisher    Publisher
	cacheService cache.Service
	opts         Options
	stripes      stripedMutex
}

func NewService(repo Repository, publisher Publisher, opts Options) Service {
	defaults := DefaultOptions()
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaults.LockTTL
	}
	if opts.MaxSeatsPerUser <= 0 {
		opts.MaxSeatsPerUser = defaults.MaxSeatsPerUser
	}
	if opts.Now == nil {
		opts.Now = defaults.Now
	}
	if publisher == nil {
		publisher = Publishers{}
	}
	return &service{
		repo:      repo,
		publisher: publisher,
		opts:      opts,
	}
}

// SetCacheService enables the seat map read cache
func (s *service) SetCacheService(cacheService cache.Service) {
	s.cacheService = cacheService
}

func (s *service) LockTTL() time.Duration {
	return s.opts.LockTTL
}

func (s *service) GetSeats(ctx context.Context, concertID string) ([]Seat, error) {
	if concertID == "" {
		return nil, fmt.Errorf("%w: concert id is required", ErrInvalidRequest)
	}

	list, err := s.loadSeatMap(ctx, concertID)
	if err != nil {
		return nil, err
	}

	// Reads expire lapsed locks so no caller ever sees a RESERVED seat past its TTL
	now := s.opts.Now()
	for i := range list {
		if list[i].LockExpired(now, s.opts.LockTTL) {
			if _, err := s.ExpireLocks(ctx, concertID); err != nil {
				return nil, err
			}
			return s.loadSeatMap(ctx, concertID)
		}
	}
	return list, nil
}

func (s *service) loadSeatMap(ctx context.Context, concertID string) ([]Seat, error) {
	if s.cacheService == nil {
		list, err := s.repo.ListSeats(ctx, concertID)
		if err != nil {
			return nil, fmt.Errorf("failed to list seats: %w", err)
		}
		return list, nil
	}

	// The generation is read before the table: a fill that raced a mutation
	// lands under the old generation and is never read again
	generation, err := s.cacheService.Counter(ctx, constants.BuildSeatMapGenerationKey(concertID))
	if err != nil {
		logger.GetDefault().Warn("seat map generation read failed, bypassing cache", "concert_id", concertID, "error", err)
		list, err := s.repo.ListSeats(ctx, concertID)
		if err != nil {
			return nil, fmt.Errorf("failed to list seats: %w", err)
		}
		return list, nil
	}

	var list []Seat
	err = s.cacheService.GetOrSet(ctx, constants.BuildSeatMapKey(concertID, generation), constants.TTL_SEAT_MAP, func() (interface{}, error) {
		return s.repo.ListSeats(ctx, concertID)
	}, &list)
	if err != nil {
		return nil, fmt.Errorf("failed to list seats: %w", err)
	}
	return list, nil
}

func (s *service) CreateSeats(ctx context.Context, concertID string, req CreateSeatsRequest) ([]Seat, error) {
	if concertID == "" {
		return nil, fmt.Errorf("%w: concert id is required", ErrInvalidRequest)
	}

	var created []Seat
	for _, layout := range req.Categories {
		if !layout.Category.IsValid() {
			return nil, fmt.Errorf("%w: unknown seat category %q", ErrInvalidRequest, layout.Category)
		}
		for _, row := range layout.Rows {
			for col := 1; col <= layout.SeatsPerRow; col++ {
				created = append(created, Seat{
					ID:         uuid.NewString(),
					ConcertID:  concertID,
					Row:        row,
					Column:     col,
					SeatNumber: fmt.Sprintf("%s%d", row, col),
					Category:   layout.Category,
					Price:      layout.Price,
					Status:     StatusAvailable,
				})
			}
		}
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("%w: layout produces no seats", ErrInvalidRequest)
	}

	if err := s.repo.CreateSeats(ctx, created); err != nil {
		return nil, fmt.Errorf("failed to create seats: %w", err)
	}
	s.invalidate(ctx, concertID)
	return created, nil
}

func (s *service) AcquireLocks(ctx context.Context, concertID, userID string, seatIDs []string) (*LockResult, error) {
	ids := uniqueIDs(seatIDs)
	if concertID == "" || userID == "" || len(ids) == 0 {
		return nil, fmt.Errorf("%w: concert, user and at least one seat are required", ErrInvalidRequest)
	}

	unlock := s.stripes.lock(concertID)
	defer unlock()

	now := s.opts.Now()
	result := &LockResult{FailedSeats: []string{}}
	var locked []Seat

	err := s.repo.Mutate(ctx, Scope{ConcertID: concertID, SeatIDs: ids, Holder: userID}, func(current []Seat) (*Mutation, error) {
		byID := make(map[string]Seat, len(current))
		var anchor time.Time
		held := 0
		for _, seat := range current {
			byID[seat.ID] = seat
			if seat.HeldBy(userID, now, s.opts.LockTTL) {
				held++
				if anchor.IsZero() || seat.LockedAt.Before(anchor) {
					anchor = *seat.LockedAt
				}
			}
		}

		var missing, failed []string
		var already, toLock []Seat
		for _, id := range ids {
			seat, ok := byID[id]
			switch {
			case !ok:
				missing = append(missing, id)
			case seat.HeldBy(userID, now, s.opts.LockTTL):
				already = append(already, seat)
			case seat.Status == StatusBooked:
				failed = append(failed, id)
			case seat.Status == StatusReserved && !seat.LockExpired(now, s.opts.LockTTL):
				failed = append(failed, id)
			default:
				toLock = append(toLock, seat)
			}
		}

		if len(missing) > 0 {
			return nil, newSeatError(ErrSeatNotFound, missing)
		}
		result.Success = already
		if len(failed) > 0 {
			result.FailedSeats = failed
			return nil, newSeatError(ErrSeatUnavailable, failed)
		}
		if held+len(toLock) > s.opts.MaxSeatsPerUser {
			return nil, fmt.Errorf("%w: at most %d seats may be held per concert", ErrInvalidRequest, s.opts.MaxSeatsPerUser)
		}

		// New seats join the user's existing batch and share its anchor; held seats keep their lockedAt
		if anchor.IsZero() {
			anchor = now
		}
		for i := range toLock {
			toLock[i].lock(userID, anchor)
		}
		locked = toLock
		result.Success = append(result.Success, toLock...)
		result.ExpiresAt = anchor.Add(s.opts.LockTTL)
		return &Mutation{Seats: toLock}, nil
	})
	if err != nil {
		if errors.Is(err, ErrSeatUnavailable) {
			logger.GetDefault().LogLockConflict(ctx, concertID, userID, result.FailedSeats)
			return result, err
		}
		return nil, fmt.Errorf("failed to acquire locks: %w", err)
	}

	if len(locked) > 0 {
		s.applied(ctx, newChangeEvent(ChangeLocked, concertID, userID, locked, now))
		logger.GetDefault().LogSeatsLocked(ctx, concertID, userID, seatIDsOf(locked))
	}
	return result, nil
}

func (s *service) ReleaseLocks(ctx context.Context, concertID, userID string, seatIDs []string) ([]string, error) {
	if concertID == "" || userID == "" {
		return nil, fmt.Errorf("%w: concert and user are required", ErrInvalidRequest)
	}

	unlock := s.stripes.lock(concertID)
	defer unlock()

	now := s.opts.Now()
	var released []Seat

	// With no seat ids the whole batch of the user is released
	scope := Scope{ConcertID: concertID, SeatIDs: uniqueIDs(seatIDs), ReservedOnly: true}
	if len(scope.SeatIDs) == 0 {
		scope.Holder = userID
	}

	err := s.repo.Mutate(ctx, scope, func(current []Seat) (*Mutation, error) {
		for _, seat := range current {
			if seat.Status == StatusReserved && seat.LockedBy != nil && *seat.LockedBy == userID {
				seat.unlock()
				released = append(released, seat)
			}
		}
		if len(released) == 0 {
			return nil, nil
		}
		return &Mutation{Seats: released}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to release locks: %w", err)
	}

	ids := seatIDsOf(released)
	if len(released) > 0 {
		s.applied(ctx, newChangeEvent(ChangeUnlocked, concertID, userID, released, now))
		logger.GetDefault().LogSeatsReleased(ctx, concertID, userID, ids)
	}
	return ids, nil
}

func (s *service) ExpireLocks(ctx context.Context, concertID string) ([]string, error) {
	unlock := s.stripes.lock(concertID)
	defer unlock()

	now := s.opts.Now()
	var expired []Seat

	err := s.repo.Mutate(ctx, Scope{ConcertID: concertID, ReservedOnly: true}, func(current []Seat) (*Mutation, error) {
		for _, seat := range current {
			if seat.LockExpired(now, s.opts.LockTTL) {
				seat.unlock()
				expired = append(expired, seat)
			}
		}
		if len(expired) == 0 {
			return nil, nil
		}
		return &Mutation{Seats: expired}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expire locks: %w", err)
	}

	ids := seatIDsOf(expired)
	if len(expired) > 0 {
		s.applied(ctx, newChangeEvent(ChangeUnlocked, concertID, "", expired, now))
		logger.GetDefault().LogLocksExpired(ctx, concertID, ids)
	}
	return ids, nil
}

func (s *service) CommitBooking(ctx context.Context, concertID, userID string, seatIDs []string, paymentRef string) (*Booking, error) {
	ids := uniqueIDs(seatIDs)
	if concertID == "" || userID == "" || paymentRef == "" || len(ids) == 0 {
		return nil, fmt.Errorf("%w: concert, user, payment reference and seats are required", ErrInvalidRequest)
	}

	// A redelivered payment confirmation returns the booking it already produced
	if existing, err := s.existingBooking(ctx, concertID, userID, paymentRef); err != nil || existing != nil {
		return existing, err
	}

	unlock := s.stripes.lock(concertID)
	defer unlock()

	now := s.opts.Now()
	var booked []Seat
	var booking *Booking

	err := s.repo.Mutate(ctx, Scope{ConcertID: concertID, SeatIDs: ids}, func(current []Seat) (*Mutation, error) {
		byID := make(map[string]Seat, len(current))
		for _, seat := range current {
			byID[seat.ID] = seat
		}

		var invalid []string
		total := 0.0
		for _, id := range ids {
			seat, ok := byID[id]
			if !ok || !seat.HeldBy(userID, now, s.opts.LockTTL) {
				invalid = append(invalid, id)
				continue
			}
			total += seat.Price
		}
		if len(invalid) > 0 {
			return nil, newSeatError(ErrLockExpiredOrStolen, invalid)
		}

		booking = &Booking{
			ID:          uuid.NewString(),
			ConcertID:   concertID,
			UserID:      userID,
			SeatIDs:     ids,
			TotalAmount: total,
			PaymentRef:  paymentRef,
			Status:      BookingStatusConfirmed,
			CreatedAt:   now,
		}
		for _, id := range ids {
			seat := byID[id]
			seat.book(booking.ID)
			booked = append(booked, seat)
		}
		return &Mutation{Seats: booked, Booking: booking}, nil
	})
	if err != nil {
		if errors.Is(err, ErrLockExpiredOrStolen) {
			// Two deliveries of the same confirmation may race; the loser sees the winner's booking
			if existing, lookupErr := s.existingBooking(ctx, concertID, userID, paymentRef); lookupErr == nil && existing != nil {
				return existing, nil
			}
			return nil, err
		}
		return nil, fmt.Errorf("failed to commit booking: %w", err)
	}

	s.applied(ctx, newChangeEvent(ChangeBooked, concertID, userID, booked, now))
	logger.GetDefault().LogBookingCommitted(ctx, booking.ID, concertID, userID, ids)
	return booking, nil
}

func (s *service) existingBooking(ctx context.Context, concertID, userID, paymentRef string) (*Booking, error) {
	existing, err := s.repo.BookingByPaymentRef(ctx, paymentRef)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up booking: %w", err)
	}
	if existing.ConcertID != concertID || existing.UserID != userID {
		return nil, fmt.Errorf("%w: payment reference already used", ErrInvalidRequest)
	}
	return existing, nil
}

func (s *service) ValidateHold(ctx context.Context, concertID, userID string, seatIDs []string) (*Hold, error) {
	list, err := s.repo.ListSeats(ctx, concertID)
	if err != nil {
		return nil, fmt.Errorf("failed to list seats: %w", err)
	}

	now := s.opts.Now()
	byID := make(map[string]Seat, len(list))
	var held []Seat
	for _, seat := range list {
		byID[seat.ID] = seat
		if seat.HeldBy(userID, now, s.opts.LockTTL) {
			held = append(held, seat)
		}
	}

	ids := uniqueIDs(seatIDs)
	if len(ids) == 0 {
		if len(held) == 0 {
			return nil, newSeatError(ErrLockExpiredOrStolen, nil)
		}
		return s.holdOf(concertID, userID, held), nil
	}

	var invalid []string
	var selected []Seat
	for _, id := range ids {
		seat, ok := byID[id]
		if !ok || !seat.HeldBy(userID, now, s.opts.LockTTL) {
			invalid = append(invalid, id)
			continue
		}
		selected = append(selected, seat)
	}
	if len(invalid) > 0 {
		return nil, newSeatError(ErrLockExpiredOrStolen, invalid)
	}
	return s.holdOf(concertID, userID, selected), nil
}

func (s *service) GetHold(ctx context.Context, concertID, userID string) (*Hold, error) {
	list, err := s.GetSeats(ctx, concertID)
	if err != nil {
		return nil, err
	}
	now := s.opts.Now()
	var held []Seat
	for _, seat := range list {
		if seat.HeldBy(userID, now, s.opts.LockTTL) {
			held = append(held, seat)
		}
	}
	return s.holdOf(concertID, userID, held), nil
}

func (s *service) holdOf(concertID, userID string, held []Seat) *Hold {
	hold := &Hold{ConcertID: concertID, UserID: userID, Seats: held}
	if hold.Seats == nil {
		hold.Seats = []Seat{}
	}
	for _, seat := range held {
		hold.TotalAmount += seat.Price
		if hold.AnchorAt.IsZero() || seat.LockedAt.Before(hold.AnchorAt) {
			hold.AnchorAt = *seat.LockedAt
		}
	}
	if !hold.AnchorAt.IsZero() {
		hold.ExpiresAt = hold.AnchorAt.Add(s.opts.LockTTL)
	}
	return hold
}

func (s *service) ListBookings(ctx context.Context, userID string) ([]Booking, error) {
	bookings, err := s.repo.ListBookings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

func (s *service) SweepExpired(ctx context.Context) (int, error) {
	concertIDs, err := s.repo.ExpiredConcerts(ctx, s.opts.Now().Add(-s.opts.LockTTL))
	if err != nil {
		return 0, fmt.Errorf("failed to find expired locks: %w", err)
	}

	total := 0
	var errs []error
	for _, concertID := range concertIDs {
		ids, err := s.ExpireLocks(ctx, concertID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total += len(ids)
	}
	return total, errors.Join(errs...)
}

// applied runs after a mutation is persisted, still inside the concert stripe,
// so events for one concert leave this process in apply order.
func (s *service) applied(ctx context.Context, event ChangeEvent) {
	s.invalidate(ctx, event.ConcertID)
	s.publisher.Publish(ctx, event.ConcertID, event)
}

func (s *service) invalidate(ctx context.Context, concertID string) {
	if s.cacheService == nil {
		return
	}
	generation, err := s.cacheService.Incr(ctx, constants.BuildSeatMapGenerationKey(concertID))
	if err != nil {
		logger.GetDefault().Warn("seat map cache invalidation failed", "concert_id", concertID, "error", err)
		return
	}
	if err := s.cacheService.Delete(ctx, constants.BuildSeatMapKey(concertID, generation-1)); err != nil {
		logger.GetDefault().Warn("stale seat map delete failed", "concert_id", concertID, "error", err)
	}
}

const stripeCount = 64

// stripedMutex serializes work per concert without keeping one mutex per concert alive forever
type stripedMutex [stripeCount]sync.Mutex

func (m *stripedMutex) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &m[h.Sum32()%stripeCount]
	mu.Lock()
	return mu.Unlock
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func seatIDsOf(list []Seat) []string {
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ID
	}
	return ids
}
