package reservation

import (
	"context"
	"sort"
	"time"

	"seatlock/internal/seats"
	"seatlock/pkg/logger"
)

// Reconcile re-reads the seat map from the server and re-derives the session from it
func (s *Session) Reconcile(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcile(ctx, "reconcile")
}

func (s *Session) reconcile(ctx context.Context, reason string) error {
	seatMap, err := s.api.GetSeats(ctx, s.concertID)
	if err != nil {
		return err
	}
	s.load(seatMap)
	s.derive(reason)
	return nil
}

// load replaces the local seat map with a server snapshot, keeping any seat
// the session already knows at a newer version
func (s *Session) load(seatMap *SeatMap) {
	if !seatMap.ServerTime.IsZero() {
		s.offset = seatMap.ServerTime.Sub(s.opts.Now())
	}
	if seatMap.TTLSeconds > 0 {
		s.opts.TTL = time.Duration(seatMap.TTLSeconds) * time.Second
	}
	next := make(map[string]seats.Seat, len(seatMap.Seats))
	for _, seat := range seatMap.Seats {
		// a snapshot read before a change we already applied must not undo it
		if known, ok := s.seatMap[seat.ID]; ok && known.Version > seat.Version {
			seat = known
		}
		next[seat.ID] = seat
	}
	s.seatMap = next
}

// HandleEvent applies a pushed change and re-derives the session the same way a
// reconcile does. Changes older than what the session already knows are ignored.
func (s *Session) HandleEvent(event seats.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ConcertID != "" && event.ConcertID != s.concertID {
		return
	}

	for _, change := range event.Seats {
		seat, ok := s.seatMap[change.ID]
		if ok && seat.Version > change.Version {
			continue
		}
		seat.ID = change.ID
		seat.ConcertID = s.concertID
		seat.Status = change.Status
		seat.LockedBy = change.LockedBy
		seat.LockedAt = change.LockedAt
		seat.Version = change.Version
		s.seatMap[change.ID] = seat

		if event.Type == seats.ChangeBooked {
			s.bookedBy[change.ID] = event.UserID
		}
	}
	s.derive("event " + string(event.Type))
}

// Tick advances the local countdown by one tick. The countdown is cosmetic:
// reaching zero triggers a reconcile, and the hold only ends if the server
// agrees or cannot be reached.
func (s *Session) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseAbandoned(ctx)
	if s.state != StateLocked && s.state != StatePaying {
		return
	}
	s.remaining = floor(s.remaining - s.opts.TickInterval)
	if s.remaining > 0 {
		return
	}

	wasLocked := s.state == StateLocked
	held := append([]string(nil), s.selected...)

	if err := s.reconcile(ctx, "countdown elapsed"); err != nil {
		logger.GetDefault().Warn("reconcile at countdown zero failed, expiring locally",
			"concert_id", s.concertID, "error", err)
		s.endHold(StateExpired, "countdown elapsed")
	}

	// The server has normally expired the seats already; releasing again is idempotent
	if wasLocked && s.state == StateIdle {
		s.abandon(held)
		s.releaseAbandoned(ctx)
	}
}

// abandon marks seats of a hold that ended as ours to give back. They never
// restore a hold, even while the server still shows them locked by us.
func (s *Session) abandon(ids []string) {
	for _, id := range ids {
		s.abandoned[id] = true
	}
}

// releaseAbandoned gives abandoned seats back; a failure is retried on the next tick
func (s *Session) releaseAbandoned(ctx context.Context) {
	if len(s.abandoned) == 0 {
		return
	}
	ids := make([]string, 0, len(s.abandoned))
	for id := range s.abandoned {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if _, err := s.api.UnlockSeats(ctx, s.concertID, ids); err != nil {
		logger.GetDefault().Debug("release of abandoned seats failed", "concert_id", s.concertID, "error", err)
		return
	}
	s.releaseLocally(ids)
}

// releaseLocally applies a release the server acknowledged so that a missed
// UNLOCKED push cannot bring the hold back. The next change from the server
// carries a version at least as high and overwrites it.
func (s *Session) releaseLocally(ids []string) {
	for _, id := range ids {
		delete(s.abandoned, id)
		seat, ok := s.seatMap[id]
		if !ok || seat.Status != seats.StatusReserved || seat.LockedBy == nil || *seat.LockedBy != s.userID {
			continue
		}
		seat.Status = seats.StatusAvailable
		seat.LockedBy = nil
		seat.LockedAt = nil
		seat.Version++
		s.seatMap[id] = seat
	}
}

// derive recomputes state, selection and countdown from the local seat map.
// Both the push path (HandleEvent) and the pull path (reconcile) end here.
func (s *Session) derive(reason string) {
	now := s.serverNow()

	var held []seats.Seat
	for _, seat := range s.seatMap {
		if seat.HeldBy(s.userID, now, s.opts.TTL) && !s.abandoned[seat.ID] {
			held = append(held, seat)
		}
	}
	sort.Slice(held, func(i, j int) bool {
		if held[i].Row != held[j].Row {
			return held[i].Row < held[j].Row
		}
		return held[i].Column < held[j].Column
	})

	switch s.state {
	case StateBooked:
		return

	case StateLocked, StatePaying:
		if s.state == StatePaying && s.bookedForUs() {
			s.remaining = 0
			s.transition(StateBooked, reason)
			return
		}

		heldSet := make(map[string]bool, len(held))
		for _, seat := range held {
			heldSet[seat.ID] = true
		}
		for _, id := range s.selected {
			if !heldSet[id] {
				// the batch is lost as a whole; what is still ours goes back on the next tick
				s.abandon(seatIDs(held))
				s.endHold(StateExpired, reason+": lock lost")
				return
			}
		}

		derived := s.remainingFor(held, now)
		if derived <= 0 {
			s.endHold(StateExpired, reason+": ttl elapsed")
			return
		}
		// seats locked from another tab join this batch
		s.selected = seatIDs(held)
		s.snap(derived)

	case StateIdle, StateSelecting:
		if derived := s.remainingFor(held, now); derived > 0 {
			s.selected = seatIDs(held)
			s.remaining = derived
			s.failed = nil
			s.transition(StateLocked, reason+": hold restored")
			return
		}

		kept := make([]string, 0, len(s.selected))
		for _, id := range s.selected {
			if seat, ok := s.seatMap[id]; ok && s.selectable(seat) {
				kept = append(kept, id)
			}
		}
		s.selected = kept
		s.settleSelection(reason)
	}
}

// remainingFor is TTL minus the age of the batch anchor, the earliest lockedAt
func (s *Session) remainingFor(held []seats.Seat, now time.Time) time.Duration {
	if len(held) == 0 {
		return 0
	}
	anchor := *held[0].LockedAt
	for _, seat := range held[1:] {
		if seat.LockedAt.Before(anchor) {
			anchor = *seat.LockedAt
		}
	}
	return floor(s.opts.TTL - now.Sub(anchor))
}

// snap corrects the local countdown when it drifted past the tolerance
func (s *Session) snap(derived time.Duration) {
	drift := s.remaining - derived
	if drift < 0 {
		drift = -drift
	}
	if drift > s.opts.DriftTolerance || s.remaining == 0 {
		if s.remaining != 0 {
			logger.GetDefault().Debug("countdown drift exceeded tolerance",
				"concert_id", s.concertID, "local", s.remaining, "server", derived)
		}
		s.remaining = derived
	}
}

// bookedForUs reports whether every selected seat is booked, and not by someone else.
// A snapshot does not say who booked a seat, so only pushed BOOKED events can rule it out.
func (s *Session) bookedForUs() bool {
	if len(s.selected) == 0 {
		return false
	}
	for _, id := range s.selected {
		seat, ok := s.seatMap[id]
		if !ok || seat.Status != seats.StatusBooked {
			return false
		}
		if by := s.bookedBy[id]; by != "" && by != s.userID {
			return false
		}
	}
	return true
}

// Run drives the session until ctx is done: pushed events are applied as they
// arrive, the countdown ticks, and the seat map is reconciled periodically
// while a hold exists. A closed events channel switches to pure polling.
func (s *Session) Run(ctx context.Context, events <-chan seats.ChangeEvent) error {
	tick := time.NewTicker(s.opts.TickInterval)
	defer tick.Stop()
	resync := time.NewTicker(s.opts.ReconcileInterval)
	defer resync.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-events:
			if !ok {
				events = nil
				if err := s.Reconcile(ctx); err != nil {
					logger.GetDefault().Warn("reconcile after event stream closed failed", "concert_id", s.concertID, "error", err)
				}
				continue
			}
			s.HandleEvent(event)

		case <-tick.C:
			s.Tick(ctx)

		case <-resync.C:
			state := s.State()
			if events != nil && state != StateLocked && state != StatePaying {
				continue
			}
			if err := s.Reconcile(ctx); err != nil {
				logger.GetDefault().Warn("periodic reconcile failed", "concert_id", s.concertID, "error", err)
			}
		}
	}
}
