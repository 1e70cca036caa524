package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SettlementPolicy selects how EndSession settles. The two policies are
// mutually exclusive: FullTerm keeps the whole prepaid amount and rejects
// closure before the scheduled end time; Prorated allows early closure and
// refunds the unused ticks.
type SettlementPolicy int

const (
	PolicyFullTerm SettlementPolicy = iota
	PolicyProrated
)

// Config carries the constructor parameters of the engine.
type Config struct {
	Admin             string
	Treasury          string
	EscrowAccount     string
	FeeBasisPoints    int64
	MinRentalDuration int64 // ticks (seconds)
	MaxRentalDuration int64
	Policy            SettlementPolicy
}

// Engine owns the unit ledger, the listing and session tables, and the pause
// and admin state. Every state-mutating entry point runs as one serialized,
// all-or-nothing transaction behind a checked busy flag: a second mutating
// call while one is in flight, including a re-entrant call from a
// collaborator, fails with ErrReentrancyBlocked instead of queueing. Reads
// take the shared lock and always observe a committed snapshot.
type Engine struct {
	mu   sync.RWMutex
	busy atomic.Bool

	admin          string
	treasury       string
	escrow         string
	feeBPS         int64
	minDuration    int64
	maxDuration    int64
	policy         SettlementPolicy
	paused         bool
	trustedBatches map[string]bool

	ledger        *unitLedger
	funds         FundsGateway
	listings      map[uint64]*Listing
	sessions      map[uint64]*Session
	nextListingID uint64
	nextSessionID uint64

	sink EventSink
	now  func() time.Time
}

// Option tweaks engine construction.
type Option func(*Engine)

// WithClock replaces the wall clock, used by tests to step time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEventSink routes emitted events to sink instead of the process log.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

func New(cfg Config, funds FundsGateway, opts ...Option) (*Engine, error) {
	if cfg.Admin == "" || cfg.Treasury == "" {
		return nil, ErrZeroAccount
	}
	if cfg.FeeBasisPoints < 0 || cfg.FeeBasisPoints >= feeDenominator {
		return nil, ErrFeeTooHigh
	}
	if cfg.MinRentalDuration <= 0 || cfg.MaxRentalDuration < cfg.MinRentalDuration {
		return nil, fmt.Errorf("%w: global bounds [%d,%d]", ErrInvalidDuration, cfg.MinRentalDuration, cfg.MaxRentalDuration)
	}
	if funds == nil {
		funds = NewTreasuryLedger()
	}
	escrow := cfg.EscrowAccount
	if escrow == "" {
		escrow = "engine:escrow"
	}
	e := &Engine{
		admin:          cfg.Admin,
		treasury:       cfg.Treasury,
		escrow:         escrow,
		feeBPS:         cfg.FeeBasisPoints,
		minDuration:    cfg.MinRentalDuration,
		maxDuration:    cfg.MaxRentalDuration,
		policy:         cfg.Policy,
		trustedBatches: make(map[string]bool),
		ledger:         newUnitLedger(),
		funds:          funds,
		listings:       make(map[uint64]*Listing),
		sessions:       make(map[uint64]*Session),
		sink:           LogSink{},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// begin gates a mutating entry point. The flag is checked before the lock so
// a re-entrant call from a collaborator invoked mid-transaction gets a clean
// rejection rather than a deadlock.
func (e *Engine) begin() error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrReentrancyBlocked
	}
	e.mu.Lock()
	return nil
}

func (e *Engine) end() {
	e.mu.Unlock()
	e.busy.Store(false)
}

// EscrowAccount returns the holder id under which the engine keeps custody.
func (e *Engine) EscrowAccount() string { return e.escrow }

// Admin returns the current administrator identity.
func (e *Engine) Admin() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.admin
}

// FeeBasisPoints returns the current platform fee rate.
func (e *Engine) FeeBasisPoints() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.feeBPS
}

// Paused reports the emergency-stop flag.
func (e *Engine) Paused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.paused
}

// DurationBounds returns the configured global [min, max] rental duration.
func (e *Engine) DurationBounds() (int64, int64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.minDuration, e.maxDuration
}

// BalanceOf reads a holder's unit balance for a batch.
func (e *Engine) BalanceOf(holder, batch string) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.balanceOf(holder, batch)
}

// BatchSupply returns the total deposited supply of a batch.
func (e *Engine) BatchSupply(batch string) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.supply(batch)
}

// FundsBalance reads a currency account balance.
func (e *Engine) FundsBalance(account string) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.funds.Balance(account)
}

// DepositFunds credits a currency account. Payment for sessions is drawn
// from these balances.
func (e *Engine) DepositFunds(account string, amount int64) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	return e.funds.Deposit(account, amount)
}

// SetApproval lets owner grant or revoke operator's right to move its units.
func (e *Engine) SetApproval(owner, operator string, approved bool) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if owner == "" || operator == "" {
		return ErrZeroAccount
	}
	e.ledger.setApproval(owner, operator, approved)
	return nil
}

// IsApproved reports whether operator may move owner's units.
func (e *Engine) IsApproved(owner, operator string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.isApproved(owner, operator)
}

// TransferUnits moves units between holders outside the rental flow. caller
// must be from or an approved operator of from.
func (e *Engine) TransferUnits(caller, from, to, batch string, qty int64) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	return e.ledger.transfer(caller, from, to, batch, qty)
}

// BatchEntry is one leg of a multi-batch transfer.
type BatchEntry struct {
	Batch string
	Qty   int64
}

// TransferUnitsBatch moves several batches between the same pair of holders
// in one transaction. Entries are validated up front so a bad leg leaves
// every balance untouched.
func (e *Engine) TransferUnitsBatch(caller, from, to string, entries []BatchEntry) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if len(entries) == 0 {
		return fmt.Errorf("%w: empty batch transfer", ErrInvalidUnitCount)
	}
	if to == "" {
		return ErrZeroAccount
	}
	if caller != from && !e.ledger.isApproved(from, caller) {
		return fmt.Errorf("%w: %s is not %s or an approved operator", ErrUnauthorized, caller, from)
	}
	need := make(map[string]int64, len(entries))
	for _, entry := range entries {
		if entry.Qty <= 0 {
			return fmt.Errorf("%w: transfer quantity %d", ErrInvalidUnitCount, entry.Qty)
		}
		need[entry.Batch] += entry.Qty
	}
	for batch, qty := range need {
		if held := e.ledger.balanceOf(from, batch); held < qty {
			return fmt.Errorf("%w: %s holds %d of %s, need %d", ErrInsufficientBalance, from, held, batch, qty)
		}
	}
	for _, entry := range entries {
		if err := e.ledger.transfer(caller, from, to, entry.Batch, entry.Qty); err != nil {
			return err
		}
	}
	return nil
}

// MintUnits is the initial deposit path: the administrator credits a holder
// with newly registered units and whitelists the batch so emergency recovery
// can never drain it. No other supply-creating path exists.
func (e *Engine) MintUnits(caller, to, batch string, qty int64) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if caller != e.admin {
		return fmt.Errorf("%w: %s is not the administrator", ErrUnauthorized, caller)
	}
	if batch == "" {
		return fmt.Errorf("%w: empty batch id", ErrInvalidUnitCount)
	}
	if err := e.ledger.mint(to, batch, qty); err != nil {
		return err
	}
	e.trustedBatches[batch] = true
	e.emit(Event{Type: EventBatchMinted, BatchID: batch, Actor: to, Units: qty})
	return nil
}

// SetFeeBasisPoints updates the platform fee rate. Administrator only;
// rates at or above 100% are rejected.
func (e *Engine) SetFeeBasisPoints(caller string, bps int64) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if caller != e.admin {
		return fmt.Errorf("%w: %s is not the administrator", ErrUnauthorized, caller)
	}
	if bps < 0 || bps >= feeDenominator {
		return ErrFeeTooHigh
	}
	e.feeBPS = bps
	e.emit(Event{Type: EventFeeUpdated, Actor: caller, Amount: bps})
	return nil
}

// SetTreasury changes the platform fee payee.
func (e *Engine) SetTreasury(caller, treasury string) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if caller != e.admin {
		return fmt.Errorf("%w: %s is not the administrator", ErrUnauthorized, caller)
	}
	if treasury == "" {
		return ErrZeroAccount
	}
	e.treasury = treasury
	e.emit(Event{Type: EventTreasuryUpdated, Actor: caller, Details: map[string]string{"treasury": treasury}})
	return nil
}

// SetDurationBounds updates the global rental duration window new listings
// are validated against. Existing listings keep their bounds.
func (e *Engine) SetDurationBounds(caller string, min, max int64) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if caller != e.admin {
		return fmt.Errorf("%w: %s is not the administrator", ErrUnauthorized, caller)
	}
	if min <= 0 || max < min {
		return fmt.Errorf("%w: bounds [%d,%d]", ErrInvalidDuration, min, max)
	}
	e.minDuration, e.maxDuration = min, max
	e.emit(Event{Type: EventBoundsUpdated, Actor: caller, Details: map[string]string{
		"min": fmt.Sprint(min), "max": fmt.Sprint(max)}})
	return nil
}

// SetPaused toggles the emergency stop. While paused, listing creation and
// session start fail fast; session end, listing cancel, and recovery keep
// working so existing custody can always be unwound.
func (e *Engine) SetPaused(caller string, paused bool) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if caller != e.admin {
		return fmt.Errorf("%w: %s is not the administrator", ErrUnauthorized, caller)
	}
	e.paused = paused
	e.emit(Event{Type: EventPauseToggled, Actor: caller, Details: map[string]string{"paused": fmt.Sprint(paused)}})
	return nil
}

// TransferAdmin hands the administrator role to a successor. Only the
// current administrator may call it.
func (e *Engine) TransferAdmin(caller, successor string) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if caller != e.admin {
		return fmt.Errorf("%w: %s is not the administrator", ErrUnauthorized, caller)
	}
	if successor == "" {
		return ErrZeroAccount
	}
	e.admin = successor
	e.emit(Event{Type: EventAdminTransfer, Actor: caller, Details: map[string]string{"successor": successor}})
	return nil
}

// SetBatchTrusted adds or removes a batch from the recovery-protection
// whitelist. Batches registered through MintUnits start out trusted.
func (e *Engine) SetBatchTrusted(caller, batch string, trusted bool) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if caller != e.admin {
		return fmt.Errorf("%w: %s is not the administrator", ErrUnauthorized, caller)
	}
	if batch == "" {
		return fmt.Errorf("%w: empty batch id", ErrInvalidUnitCount)
	}
	if trusted {
		e.trustedBatches[batch] = true
	} else {
		delete(e.trustedBatches, batch)
	}
	return nil
}

// RecoverAssets moves units of an unmanaged batch out of escrow custody,
// for assets accidentally sent to the engine. Batches whitelisted at mint
// time are protected: recovery can never drain legitimately escrowed units.
func (e *Engine) RecoverAssets(caller, batch, to string, qty int64) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if caller != e.admin {
		return fmt.Errorf("%w: %s is not the administrator", ErrUnauthorized, caller)
	}
	if e.trustedBatches[batch] {
		return fmt.Errorf("%w: %s", ErrBatchProtected, batch)
	}
	if err := e.ledger.transfer(e.escrow, e.escrow, to, batch, qty); err != nil {
		return err
	}
	e.emit(Event{Type: EventAssetsRecovered, BatchID: batch, Actor: caller, Units: qty,
		Details: map[string]string{"to": to}})
	return nil
}
