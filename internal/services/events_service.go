package services

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/unitlease/backend/internal/journal"
)

// EventsService serves the journaled event stream for audit and activity
// feeds. Reads hit Postgres directly, never the engine.
type EventsService struct {
	journal *journal.Store
}

func NewEventsService(store *journal.Store) *EventsService {
	return &EventsService{journal: store}
}

// RecentEvents lists the newest journaled events
// @Summary List recent events
// @Description List the newest journaled engine events, newest first
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum number of events (default 50, max 100)"
// @Success 200 {array} journal.Record
// @Failure 500 {object} ErrorResponse
// @Router /events/recent [get]
func (s *EventsService) RecentEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := s.journal.Recent(limit)
	if err != nil {
		log.Printf("[EVENTS] Recent query failed: %v", err)
		SendErrorResponse(w, "Failed to load events", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// ListingEvents lists a listing's event history
// @Summary List a listing's events
// @Description List the journaled event history of one listing, oldest first
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param listingId path int true "Listing ID"
// @Param limit query int false "Maximum number of events (default 50, max 100)"
// @Success 200 {array} journal.Record
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /listings/{listingId}/events [get]
func (s *EventsService) ListingEvents(w http.ResponseWriter, r *http.Request) {
	id, err := listingID(r)
	if err != nil {
		SendErrorResponse(w, "Invalid listing id", http.StatusBadRequest, nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := s.journal.ByListing(id, limit)
	if err != nil {
		log.Printf("[EVENTS] Listing %d query failed: %v", id, err)
		SendErrorResponse(w, "Failed to load events", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}
