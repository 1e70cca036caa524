package engine

import (
	"log"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the engine, one per state transition.
const (
	EventBatchMinted     = "BATCH_MINTED"
	EventListingCreated  = "LISTING_CREATED"
	EventListingUpdated  = "LISTING_UPDATED"
	EventListingCanceled = "LISTING_CANCELED"
	EventSessionStarted  = "SESSION_STARTED"
	EventSessionEnded    = "SESSION_ENDED"
	EventFeeUpdated      = "FEE_UPDATED"
	EventTreasuryUpdated = "TREASURY_UPDATED"
	EventBoundsUpdated   = "DURATION_BOUNDS_UPDATED"
	EventPauseToggled    = "PAUSE_TOGGLED"
	EventAdminTransfer   = "ADMIN_TRANSFERRED"
	EventAssetsRecovered = "ASSETS_RECOVERED"
)

// Event is the immutable record of one state transition, intended for
// external indexing. Fields not relevant to a given type are zero.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	ListingID uint64            `json:"listingId,omitempty"`
	SessionID uint64            `json:"sessionId,omitempty"`
	BatchID   string            `json:"batchId,omitempty"`
	Actor     string            `json:"actor,omitempty"`
	Units     int64             `json:"units,omitempty"`
	Amount    int64             `json:"amount,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// EventSink receives events after the state transition they describe has
// committed. Sink errors are logged and dropped: observability must never
// corrupt custody.
type EventSink interface {
	Append(ev Event) error
}

// LogSink writes events to the process log. It is the default sink when no
// journal is wired in.
type LogSink struct{}

func (LogSink) Append(ev Event) error {
	log.Printf("[EVENT] %s listing=%d session=%d actor=%s units=%d amount=%d",
		ev.Type, ev.ListingID, ev.SessionID, ev.Actor, ev.Units, ev.Amount)
	return nil
}

func (e *Engine) emit(ev Event) {
	ev.ID = uuid.NewString()
	ev.Timestamp = e.now()
	if err := e.sink.Append(ev); err != nil {
		log.Printf("[ENGINE] event sink append failed for %s: %v", ev.Type, err)
	}
}
