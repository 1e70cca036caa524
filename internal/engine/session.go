package engine

import (
	"fmt"
	"log"
	"sort"
	"time"
)

// Session is one rental of a quantity of units from a listing for a bounded
// time window. A session is Open from start until EndSession closes it;
// Closed is terminal.
type Session struct {
	ID            uint64    `json:"id"`
	ListingID     uint64    `json:"listingId"`
	Borrower      string    `json:"borrower"`
	UnitsBorrowed int64     `json:"unitsBorrowed"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime"`
	AmountPaid    int64     `json:"amountPaid"`
	Active        bool      `json:"active"`
}

// StartSession opens a rental against a listing. The full prepaid cost is
// split between lender and platform up front, any overpayment is refunded,
// and custody of the rented units moves to the borrower. Everything happens
// inside one serialized transaction: a failed precondition leaves ledger,
// funds, and listing untouched.
func (e *Engine) StartSession(borrower string, listingID uint64, units, duration, payment int64) (Session, error) {
	if err := e.begin(); err != nil {
		return Session{}, err
	}
	defer e.end()

	if e.paused {
		return Session{}, ErrSystemPaused
	}
	l, ok := e.listings[listingID]
	if !ok {
		return Session{}, fmt.Errorf("%w: %d", ErrListingNotFound, listingID)
	}
	if !l.Active {
		return Session{}, fmt.Errorf("%w: %d", ErrListingNotActive, listingID)
	}
	if borrower == "" {
		return Session{}, ErrZeroAccount
	}
	if units <= 0 || units > l.AvailableUnits {
		return Session{}, fmt.Errorf("%w: requested %d, available %d", ErrInvalidUnitCount, units, l.AvailableUnits)
	}
	if duration < l.MinDuration || duration > l.MaxDuration {
		return Session{}, fmt.Errorf("%w: %d outside listing bounds [%d,%d]",
			ErrInvalidDuration, duration, l.MinDuration, l.MaxDuration)
	}

	perTick, ok2 := mulCheck(l.PricePerUnitTick, units)
	if !ok2 {
		return Session{}, fmt.Errorf("%w: %d * %d units", ErrOverflow, l.PricePerUnitTick, units)
	}
	totalCost, ok2 := mulCheck(perTick, duration)
	if !ok2 {
		return Session{}, fmt.Errorf("%w: %d * %d ticks", ErrOverflow, perTick, duration)
	}
	if payment < totalCost {
		return Session{}, fmt.Errorf("%w: paid %d, cost %d", ErrInsufficientPayment, payment, totalCost)
	}

	platformShare, lenderShare := splitFee(totalCost, e.feeBPS)
	refund := payment - totalCost

	legs := []FundsTransfer{
		{From: borrower, To: e.escrow, Amount: payment},
		{From: e.escrow, To: l.Lender, Amount: lenderShare},
		{From: e.escrow, To: e.treasury, Amount: platformShare},
	}
	if refund > 0 {
		legs = append(legs, FundsTransfer{From: e.escrow, To: borrower, Amount: refund})
	}
	if err := e.funds.Settle(legs); err != nil {
		return Session{}, err
	}

	l.AvailableUnits -= units

	e.nextSessionID++
	start := e.now()
	s := &Session{
		ID:            e.nextSessionID,
		ListingID:     listingID,
		Borrower:      borrower,
		UnitsBorrowed: units,
		StartTime:     start,
		EndTime:       start.Add(time.Duration(duration) * time.Second),
		AmountPaid:    totalCost,
		Active:        true,
	}
	e.sessions[s.ID] = s

	if err := e.ledger.transfer(e.escrow, e.escrow, borrower, l.BatchID, units); err != nil {
		// Escrow held the listing's units before the session opened, so this
		// is unreachable; treat it as a fatal abort and unwind.
		if uerr := e.funds.Settle(reverse(legs)); uerr != nil {
			log.Printf("[ENGINE] failed to unwind payment for aborted session on listing %d: %v", listingID, uerr)
		}
		l.AvailableUnits += units
		delete(e.sessions, s.ID)
		e.nextSessionID--
		return Session{}, err
	}

	e.emit(Event{Type: EventSessionStarted, ListingID: listingID, SessionID: s.ID,
		BatchID: l.BatchID, Actor: borrower, Units: units, Amount: totalCost,
		Details: map[string]string{"refund": fmt.Sprint(refund)}})
	return *s, nil
}

// EndSession closes a session, returns custody of the borrowed units to the
// lender, and restores the listing's availability if the listing is still
// active. Under the full-term policy closure before the scheduled end time
// is rejected; under the prorated policy early closure refunds the unused
// ticks, split between lender and platform by the same fee rate. Closing an
// already-closed session fails cleanly with no ledger movement, so the call
// is safe to retry.
func (e *Engine) EndSession(caller string, sessionID uint64) (Session, error) {
	if err := e.begin(); err != nil {
		return Session{}, err
	}
	defer e.end()

	s, ok := e.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
	}
	if !s.Active {
		return Session{}, fmt.Errorf("%w: %d", ErrSessionNotActive, sessionID)
	}
	if caller != s.Borrower && caller != e.admin && !e.ledger.isApproved(s.Borrower, caller) {
		return Session{}, fmt.Errorf("%w: %s may not close session %d", ErrUnauthorized, caller, sessionID)
	}
	l, ok := e.listings[s.ListingID]
	if !ok {
		return Session{}, fmt.Errorf("%w: %d", ErrListingNotFound, s.ListingID)
	}

	now := e.now()
	early := now.Before(s.EndTime)
	var refundGross int64
	if early {
		if e.policy == PolicyFullTerm {
			return Session{}, fmt.Errorf("%w: session %d ends at %s", ErrSessionNotYetEnded, sessionID, s.EndTime.Format(time.RFC3339))
		}
		refundGross = prorateRefund(s, now)
	}

	if refundGross > 0 {
		platformRefund, lenderRefund := splitFee(refundGross, e.feeBPS)
		legs := []FundsTransfer{
			{From: l.Lender, To: s.Borrower, Amount: lenderRefund},
			{From: e.treasury, To: s.Borrower, Amount: platformRefund},
		}
		if err := e.funds.Settle(legs); err != nil {
			return Session{}, err
		}
	}

	// While the listing is active it keeps custody of its full quantity, so
	// returned units go back into escrow and availability is restored. Once
	// the listing has been canceled the units go straight to the lender.
	returnTo := l.Lender
	if l.Active {
		returnTo = e.escrow
	}
	if err := e.ledger.transfer(s.Borrower, s.Borrower, returnTo, l.BatchID, s.UnitsBorrowed); err != nil {
		return Session{}, err
	}

	s.Active = false
	s.AmountPaid -= refundGross
	if l.Active {
		l.AvailableUnits += s.UnitsBorrowed
	}

	reason := "completed"
	if early {
		reason = "early"
	}
	e.emit(Event{Type: EventSessionEnded, ListingID: l.ID, SessionID: s.ID, BatchID: l.BatchID,
		Actor: caller, Units: s.UnitsBorrowed, Amount: s.AmountPaid,
		Details: map[string]string{"closure": reason, "refund": fmt.Sprint(refundGross)}})
	return *s, nil
}

// prorateRefund computes the gross refund for an early closure: only the
// unused whole ticks come back, and elapsed time rounds up so already-earned
// lender revenue is never repaid. The per-tick rate is recovered from the
// session's own prepaid amount, so repricing the listing after the session
// opened has no effect on the refund.
func prorateRefund(s *Session, now time.Time) int64 {
	elapsed := now.Sub(s.StartTime)
	usedTicks := int64(elapsed / time.Second)
	if elapsed%time.Second != 0 {
		usedTicks++
	}
	totalTicks := int64(s.EndTime.Sub(s.StartTime) / time.Second)
	if usedTicks >= totalTicks {
		return 0
	}
	unused := totalTicks - usedTicks
	// AmountPaid was price * units * ticks at open, so this division is exact.
	perTick := s.AmountPaid / totalTicks
	return perTick * unused
}

// Session resolves a session by id, open or closed.
func (e *Engine) Session(id uint64) (Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	return *s, nil
}

// SessionsByBorrower returns every session opened by borrower, oldest first.
func (e *Engine) SessionsByBorrower(borrower string) []Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := []Session{}
	for _, s := range e.sessions {
		if s.Borrower == borrower {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenSessionsByListing sums and returns the open sessions against a
// listing. Used by reads and by the availability-bound tests.
func (e *Engine) OpenSessionsByListing(listingID uint64) []Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := []Session{}
	for _, s := range e.sessions {
		if s.ListingID == listingID && s.Active {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func reverse(legs []FundsTransfer) []FundsTransfer {
	out := make([]FundsTransfer, 0, len(legs))
	for i := len(legs) - 1; i >= 0; i-- {
		out = append(out, FundsTransfer{From: legs[i].To, To: legs[i].From, Amount: legs[i].Amount})
	}
	return out
}
