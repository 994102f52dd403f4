package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"seatlock/internal/seats"
)

// State is a Session lifecycle state
type State string

const (
	StateIdle      State = "IDLE"
	StateSelecting State = "SELECTING"
	StateLocked    State = "LOCKED"
	StatePaying    State = "PAYING"
	StateBooked    State = "BOOKED"

	// Expired and Released are passed through on the way back to Idle so
	// listeners can tell why a hold ended.
	StateExpired  State = "EXPIRED"
	StateReleased State = "RELEASED"
)

var (
	ErrIllegalTransition = errors.New("illegal session transition")
	ErrSeatNotSelectable = errors.New("seat is not selectable")
	ErrSelectionLimit    = errors.New("seat selection limit reached")
)

// SeatMap is the server's seat list for a concert together with the server
// clock at the moment it was read.
type SeatMap struct {
	ConcertID  string       `json:"concertId"`
	Seats      []seats.Seat `json:"seats"`
	ServerTime time.Time    `json:"serverTime"`
	TTLSeconds int          `json:"ttlSeconds"`
}

// Checkout is the external checkout session a payment hands off to
type Checkout struct {
	URL       string    `json:"url"`
	SessionID string    `json:"sessionId"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// API is the server surface a Session talks to
type API interface {
	GetSeats(ctx context.Context, concertID string) (*SeatMap, error)
	LockSeats(ctx context.Context, concertID string, seatIDs []string) (*seats.LockResult, error)
	UnlockSeats(ctx context.Context, concertID string, seatIDs []string) ([]string, error)
	InitiateCheckout(ctx context.Context, concertID string, seatIDs []string) (*Checkout, error)
}

type Options struct {
	TTL               time.Duration
	TickInterval      time.Duration
	ReconcileInterval time.Duration
	DriftTolerance    time.Duration
	MaxSeats          int
	Now               func() time.Time
}

func DefaultOptions() Options {
	return Options{
		TTL:               10 * time.Minute,
		TickInterval:      time.Second,
		ReconcileInterval: 10 * time.Second,
		DriftTolerance:    2 * time.Second,
		MaxSeats:          6,
		Now:               time.Now,
	}
}

// Transition is reported to listeners on every state change
type Transition struct {
	From   State
	To     State
	Reason string
}

// View is a copy of the session state for rendering
type View struct {
	State       State        `json:"state"`
	Selected    []seats.Seat `json:"selected"`
	Total       float64      `json:"total"`
	Remaining   int          `json:"remainingSeconds"`
	FailedSeats []string     `json:"failedSeats,omitempty"`
	Checkout    *Checkout    `json:"checkout,omitempty"`
}

// Session is one viewer's reservation flow for a single concert. It owns the
// local selection and countdown; the server stays the authority on who holds
// what, and every irreversible step is checked against it first.
//
// Operations are serialized by the session mutex, API calls included.
type Session struct {
	mu sync.Mutex

	api       API
	concertID string
	userID    string
	opts      Options

	state     State
	seatMap   map[string]seats.Seat
	bookedBy  map[string]string
	abandoned map[string]bool
	selected  []string
	remaining time.Duration
	offset    time.Duration // server clock minus local clock
	failed    []string
	checkout  *Checkout

	listeners []func(Transition)
}

func NewSession(api API, concertID, userID string, opts Options) *Session {
	defaults := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = defaults.TTL
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaults.TickInterval
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = defaults.ReconcileInterval
	}
	if opts.DriftTolerance <= 0 {
		opts.DriftTolerance = defaults.DriftTolerance
	}
	if opts.MaxSeats <= 0 {
		opts.MaxSeats = defaults.MaxSeats
	}
	if opts.Now == nil {
		opts.Now = defaults.Now
	}
	return &Session{
		api:       api,
		concertID: concertID,
		userID:    userID,
		opts:      opts,
		state:     StateIdle,
		seatMap:   make(map[string]seats.Seat),
		bookedBy:  make(map[string]string),
		abandoned: make(map[string]bool),
	}
}

// OnTransition registers fn to be called, under the session lock, on every state change
func (s *Session) OnTransition(fn func(Transition)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current view
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := View{
		State:     s.state,
		Selected:  s.selectedSeats(),
		Total:     s.total(),
		Remaining: int(s.remaining / time.Second),
		Checkout:  s.checkout,
	}
	if len(s.failed) > 0 {
		view.FailedSeats = append([]string(nil), s.failed...)
	}
	return view
}

// Seats returns the last known seat map sorted by row and column
func (s *Session) Seats() []seats.Seat {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]seats.Seat, 0, len(s.seatMap))
	for _, seat := range s.seatMap {
		list = append(list, seat)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Row != list[j].Row {
			return list[i].Row < list[j].Row
		}
		return list[i].Column < list[j].Column
	})
	return list
}

// Mount loads the seat map and restores any hold this user already has
func (s *Session) Mount(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcile(ctx, "mount")
}

// Toggle adds or removes a seat from the local selection
func (s *Session) Toggle(seatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle && s.state != StateSelecting {
		return fmt.Errorf("%w: cannot change selection while %s", ErrIllegalTransition, s.state)
	}

	if i := indexOf(s.selected, seatID); i >= 0 {
		s.selected = append(s.selected[:i], s.selected[i+1:]...)
		s.settleSelection("deselect")
		return nil
	}

	seat, ok := s.seatMap[seatID]
	if !ok || !s.selectable(seat) {
		return fmt.Errorf("%w: %s", ErrSeatNotSelectable, seatID)
	}
	if len(s.selected) >= s.opts.MaxSeats {
		return fmt.Errorf("%w: at most %d seats", ErrSelectionLimit, s.opts.MaxSeats)
	}
	s.selected = append(s.selected, seatID)
	s.failed = nil
	s.settleSelection("select")
	return nil
}

// Lock asks the server to hold the selected seats. When some seats are taken
// the error wraps seats.ErrSeatUnavailable, those seats leave the selection,
// and the session keeps whatever the user still validly holds.
func (s *Session) Lock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSelecting {
		return fmt.Errorf("%w: lock requires a selection, session is %s", ErrIllegalTransition, s.state)
	}

	result, err := s.api.LockSeats(ctx, s.concertID, append([]string(nil), s.selected...))
	if err != nil && !errors.Is(err, seats.ErrSeatUnavailable) {
		return err
	}
	if err == nil && result == nil {
		return errors.New("lock response carried no result")
	}
	if result != nil {
		for _, seat := range result.Success {
			delete(s.abandoned, seat.ID)
			s.applySeat(seat)
		}
	}

	if err != nil {
		failed := seats.FailedSeatIDs(err)
		if result != nil && len(result.FailedSeats) > 0 {
			failed = result.FailedSeats
		}
		s.failed = failed
		for _, id := range failed {
			if i := indexOf(s.selected, id); i >= 0 {
				s.selected = append(s.selected[:i], s.selected[i+1:]...)
			}
		}

		if result != nil && len(result.Success) > 0 {
			s.selected = seatIDs(result.Success)
			s.startCountdown(result)
			s.transition(StateLocked, "partial lock")
		} else {
			s.settleSelection("lock failed")
		}
		return err
	}

	s.failed = nil
	s.selected = seatIDs(result.Success)
	s.startCountdown(result)
	s.transition(StateLocked, "locked")
	return nil
}

// Release gives the held seats back. In Selecting it only clears the selection.
func (s *Session) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateSelecting:
		s.selected = nil
		s.transition(StateIdle, "selection cleared")
		return nil
	case StateLocked:
	default:
		return fmt.Errorf("%w: nothing to release while %s", ErrIllegalTransition, s.state)
	}

	held := append([]string(nil), s.selected...)
	if _, err := s.api.UnlockSeats(ctx, s.concertID, held); err != nil {
		return err
	}
	s.releaseLocally(held)
	s.endHold(StateReleased, "released")
	return nil
}

// ConfirmAndPay hands the held seats to checkout and moves to Paying
func (s *Session) ConfirmAndPay(ctx context.Context) (*Checkout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateLocked {
		return nil, fmt.Errorf("%w: checkout requires a lock, session is %s", ErrIllegalTransition, s.state)
	}

	checkout, err := s.api.InitiateCheckout(ctx, s.concertID, append([]string(nil), s.selected...))
	if err != nil {
		if errors.Is(err, seats.ErrLockExpiredOrStolen) {
			s.abandon(s.selected)
			s.endHold(StateExpired, "lock lost before checkout")
		}
		return nil, err
	}

	s.checkout = checkout
	s.transition(StatePaying, "checkout started")
	return checkout, nil
}

func (s *Session) selectable(seat seats.Seat) bool {
	switch seat.Status {
	case seats.StatusAvailable:
		return true
	case seats.StatusReserved:
		// a lapsed lock is as good as free; the server expires it on the next write
		return seat.LockExpired(s.serverNow(), s.opts.TTL) ||
			(seat.LockedBy != nil && *seat.LockedBy == s.userID)
	}
	return false
}

// settleSelection moves between Idle and Selecting after the selection changed
func (s *Session) settleSelection(reason string) {
	if len(s.selected) == 0 {
		s.transition(StateIdle, reason)
		return
	}
	s.transition(StateSelecting, reason)
}

func (s *Session) startCountdown(result *seats.LockResult) {
	if !result.ExpiresAt.IsZero() {
		s.remaining = floor(result.ExpiresAt.Sub(s.serverNow()))
		return
	}
	s.remaining = s.remainingFor(result.Success, s.serverNow())
}

// endHold passes through a terminal state and returns to Idle
func (s *Session) endHold(terminal State, reason string) {
	s.transition(terminal, reason)
	s.selected = nil
	s.remaining = 0
	s.checkout = nil
	s.transition(StateIdle, reason)
}

func (s *Session) transition(to State, reason string) {
	if s.state == to {
		return
	}
	t := Transition{From: s.state, To: to, Reason: reason}
	s.state = to
	for _, fn := range s.listeners {
		fn(t)
	}
}

func (s *Session) serverNow() time.Time {
	return s.opts.Now().Add(s.offset)
}

func (s *Session) applySeat(seat seats.Seat) {
	if known, ok := s.seatMap[seat.ID]; ok && known.Version > seat.Version {
		return
	}
	s.seatMap[seat.ID] = seat
}

func (s *Session) selectedSeats() []seats.Seat {
	list := make([]seats.Seat, 0, len(s.selected))
	for _, id := range s.selected {
		if seat, ok := s.seatMap[id]; ok {
			list = append(list, seat)
		}
	}
	return list
}

func (s *Session) total() float64 {
	total := 0.0
	for _, id := range s.selected {
		total += s.seatMap[id].Price
	}
	return total
}

func floor(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func seatIDs(list []seats.Seat) []string {
	ids := make([]string, len(list))
	for i, seat := range list {
		ids[i] = seat.ID
	}
	return ids
}
