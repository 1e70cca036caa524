package engine

import "errors"

// Sentinel errors for every rejection the engine can produce. Handlers
// classify them with errors.Is; the engine wraps them with %w where extra
// context helps debugging.
var (
	// Validation
	ErrInvalidUnitCount = errors.New("invalid unit count")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrInvalidDuration  = errors.New("invalid duration")
	ErrZeroAccount      = errors.New("zero or empty account")
	ErrFeeTooHigh       = errors.New("fee exceeds 10000 basis points")

	// Authorization
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotApproved  = errors.New("escrow not approved as transfer operator")

	// State
	ErrListingNotFound    = errors.New("listing not found")
	ErrListingNotActive   = errors.New("listing not active")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionNotActive   = errors.New("session not active")
	ErrSessionNotYetEnded = errors.New("session has not reached its end time")
	ErrReentrancyBlocked  = errors.New("operation already in progress")
	ErrSystemPaused       = errors.New("system paused")
	ErrBatchProtected     = errors.New("batch is protected from recovery")

	// Conservation
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrOverflow            = errors.New("arithmetic overflow")
)
