package engine

import (
	"fmt"
	"sort"
	"time"
)

// Listing is a lender's advertised offer: units of a batch held in escrow
// custody, priced per unit per tick. AvailableUnits only moves when sessions
// open and close against it.
type Listing struct {
	ID               uint64    `json:"id"`
	Lender           string    `json:"lender"`
	BatchID          string    `json:"batchId"`
	PricePerUnitTick int64     `json:"pricePerUnitTick"`
	TotalUnits       int64     `json:"totalUnits"`
	AvailableUnits   int64     `json:"availableUnits"`
	MinDuration      int64     `json:"minDuration"`
	MaxDuration      int64     `json:"maxDuration"`
	CreatedAt        time.Time `json:"createdAt"`
	Active           bool      `json:"active"`
}

func (e *Engine) validateDurationBounds(min, max int64) error {
	if min <= 0 || max < min {
		return fmt.Errorf("%w: listing bounds [%d,%d]", ErrInvalidDuration, min, max)
	}
	if min < e.minDuration || max > e.maxDuration {
		return fmt.Errorf("%w: listing bounds [%d,%d] outside global [%d,%d]",
			ErrInvalidDuration, min, max, e.minDuration, e.maxDuration)
	}
	return nil
}

// CreateListing puts units of the lender's batch up for rent. The units move
// into escrow custody, which requires the lender to have approved the escrow
// account as a transfer operator.
func (e *Engine) CreateListing(lender, batch string, pricePerUnitTick, units, minDuration, maxDuration int64) (Listing, error) {
	if err := e.begin(); err != nil {
		return Listing{}, err
	}
	defer e.end()

	if e.paused {
		return Listing{}, ErrSystemPaused
	}
	if units <= 0 {
		return Listing{}, fmt.Errorf("%w: %d", ErrInvalidUnitCount, units)
	}
	if pricePerUnitTick <= 0 {
		return Listing{}, fmt.Errorf("%w: %d", ErrInvalidPrice, pricePerUnitTick)
	}
	if err := e.validateDurationBounds(minDuration, maxDuration); err != nil {
		return Listing{}, err
	}
	if !e.ledger.isApproved(lender, e.escrow) {
		return Listing{}, fmt.Errorf("%w: lender %s", ErrNotApproved, lender)
	}
	if err := e.ledger.transfer(e.escrow, lender, e.escrow, batch, units); err != nil {
		return Listing{}, err
	}

	e.nextListingID++
	l := &Listing{
		ID:               e.nextListingID,
		Lender:           lender,
		BatchID:          batch,
		PricePerUnitTick: pricePerUnitTick,
		TotalUnits:       units,
		AvailableUnits:   units,
		MinDuration:      minDuration,
		MaxDuration:      maxDuration,
		CreatedAt:        e.now(),
		Active:           true,
	}
	e.listings[l.ID] = l

	e.emit(Event{Type: EventListingCreated, ListingID: l.ID, BatchID: batch, Actor: lender,
		Units: units, Amount: pricePerUnitTick})
	return *l, nil
}

// UpdateListing changes price, quantity, or duration bounds. Quantity can
// never be reduced below what is currently rented out; an increase pulls the
// delta from the lender into escrow.
func (e *Engine) UpdateListing(caller string, id uint64, pricePerUnitTick, totalUnits, minDuration, maxDuration int64) (Listing, error) {
	if err := e.begin(); err != nil {
		return Listing{}, err
	}
	defer e.end()

	l, ok := e.listings[id]
	if !ok {
		return Listing{}, fmt.Errorf("%w: %d", ErrListingNotFound, id)
	}
	if caller != l.Lender {
		return Listing{}, fmt.Errorf("%w: %s is not the lender of listing %d", ErrUnauthorized, caller, id)
	}
	if !l.Active {
		return Listing{}, fmt.Errorf("%w: %d", ErrListingNotActive, id)
	}
	if pricePerUnitTick <= 0 {
		return Listing{}, fmt.Errorf("%w: %d", ErrInvalidPrice, pricePerUnitTick)
	}
	if err := e.validateDurationBounds(minDuration, maxDuration); err != nil {
		return Listing{}, err
	}

	rented := l.TotalUnits - l.AvailableUnits
	if totalUnits < rented {
		return Listing{}, fmt.Errorf("%w: %d units below %d currently rented", ErrInvalidUnitCount, totalUnits, rented)
	}
	switch {
	case totalUnits > l.TotalUnits:
		delta := totalUnits - l.TotalUnits
		if err := e.ledger.transfer(e.escrow, l.Lender, e.escrow, l.BatchID, delta); err != nil {
			return Listing{}, err
		}
	case totalUnits < l.TotalUnits:
		delta := l.TotalUnits - totalUnits
		if err := e.ledger.transfer(e.escrow, e.escrow, l.Lender, l.BatchID, delta); err != nil {
			return Listing{}, err
		}
	}
	l.TotalUnits = totalUnits
	l.AvailableUnits = totalUnits - rented
	l.PricePerUnitTick = pricePerUnitTick
	l.MinDuration = minDuration
	l.MaxDuration = maxDuration

	e.emit(Event{Type: EventListingUpdated, ListingID: l.ID, BatchID: l.BatchID, Actor: caller,
		Units: totalUnits, Amount: pricePerUnitTick})
	return *l, nil
}

// CancelListing deactivates a listing and returns the not-yet-rented
// remainder to the lender. Units out with open sessions stay in the rental
// flow and come back to the lender one session at a time as those sessions
// close; the listing stays resolvable by id for that purpose.
func (e *Engine) CancelListing(caller string, id uint64) (Listing, error) {
	if err := e.begin(); err != nil {
		return Listing{}, err
	}
	defer e.end()

	l, ok := e.listings[id]
	if !ok {
		return Listing{}, fmt.Errorf("%w: %d", ErrListingNotFound, id)
	}
	if caller != l.Lender && caller != e.admin {
		return Listing{}, fmt.Errorf("%w: %s may not cancel listing %d", ErrUnauthorized, caller, id)
	}
	if !l.Active {
		return Listing{}, fmt.Errorf("%w: %d", ErrListingNotActive, id)
	}

	if l.AvailableUnits > 0 {
		if err := e.ledger.transfer(e.escrow, e.escrow, l.Lender, l.BatchID, l.AvailableUnits); err != nil {
			return Listing{}, err
		}
	}
	returned := l.AvailableUnits
	l.AvailableUnits = 0
	l.Active = false

	e.emit(Event{Type: EventListingCanceled, ListingID: l.ID, BatchID: l.BatchID, Actor: caller, Units: returned})
	return *l, nil
}

// Listing resolves a listing by id, active or not.
func (e *Engine) Listing(id uint64) (Listing, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.listings[id]
	if !ok {
		return Listing{}, fmt.Errorf("%w: %d", ErrListingNotFound, id)
	}
	return *l, nil
}

// ActiveListings returns a page of active listings ordered by id.
func (e *Engine) ActiveListings(offset, limit int) []Listing {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	ids := make([]uint64, 0, len(e.listings))
	for id, l := range e.listings {
		if l.Active {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if offset >= len(ids) {
		return []Listing{}
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	page := make([]Listing, 0, end-offset)
	for _, id := range ids[offset:end] {
		page = append(page, *e.listings[id])
	}
	return page
}

// ListingsByLender returns every listing, active or not, owned by lender.
func (e *Engine) ListingsByLender(lender string) []Listing {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := []Listing{}
	for _, l := range e.listings {
		if l.Lender == lender {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
