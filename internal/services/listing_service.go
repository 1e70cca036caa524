package services

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/unitlease/backend/internal/engine"
	"github.com/unitlease/backend/internal/middleware"
)

type ListingService struct {
	engine    *engine.Engine
	validator *ValidationHelper
}

func NewListingService(eng *engine.Engine) *ListingService {
	return &ListingService{
		engine:    eng,
		validator: NewValidationHelper(),
	}
}

type createListingRequest struct {
	BatchID          string `json:"batchId" validate:"required"`
	PricePerUnitTick int64  `json:"pricePerUnitTick" validate:"required,gt=0"`
	Units            int64  `json:"units" validate:"required,gt=0"`
	MinDuration      int64  `json:"minDuration" validate:"required,gt=0"`
	MaxDuration      int64  `json:"maxDuration" validate:"required,gtefield=MinDuration"`
}

// CreateListing puts the caller's units up for rent
// @Summary Create a listing
// @Description Move units into escrow custody and advertise them for rent
// @Tags listings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createListingRequest true "Listing parameters"
// @Success 201 {object} engine.Listing
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /listings [post]
func (s *ListingService) CreateListing(w http.ResponseWriter, r *http.Request) {
	lender := middleware.CallerAccount(r.Context())
	if lender == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req createListingRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	listing, err := s.engine.CreateListing(lender, req.BatchID, req.PricePerUnitTick, req.Units, req.MinDuration, req.MaxDuration)
	if err != nil {
		log.Printf("[LISTING] Create failed for %s: %v", lender, err)
		SendEngineError(w, err)
		return
	}

	log.Printf("[LISTING] Created listing %d: lender=%s batch=%s units=%d", listing.ID, lender, req.BatchID, req.Units)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(listing)
}

type updateListingRequest struct {
	PricePerUnitTick int64 `json:"pricePerUnitTick" validate:"required,gt=0"`
	TotalUnits       int64 `json:"totalUnits" validate:"required,gt=0"`
	MinDuration      int64 `json:"minDuration" validate:"required,gt=0"`
	MaxDuration      int64 `json:"maxDuration" validate:"required,gtefield=MinDuration"`
}

// UpdateListing changes price, quantity, or duration bounds
// @Summary Update a listing
// @Description Update price, quantity, or duration bounds of an active listing
// @Tags listings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param listingId path int true "Listing ID"
// @Param request body updateListingRequest true "New listing parameters"
// @Success 200 {object} engine.Listing
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /listings/{listingId} [put]
func (s *ListingService) UpdateListing(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerAccount(r.Context())
	id, err := listingID(r)
	if err != nil {
		SendErrorResponse(w, "Invalid listing id", http.StatusBadRequest, nil)
		return
	}

	var req updateListingRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	listing, err := s.engine.UpdateListing(caller, id, req.PricePerUnitTick, req.TotalUnits, req.MinDuration, req.MaxDuration)
	if err != nil {
		log.Printf("[LISTING] Update of %d failed for %s: %v", id, caller, err)
		SendEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listing)
}

// CancelListing deactivates a listing
// @Summary Cancel a listing
// @Description Deactivate a listing and return the unrented units to the lender
// @Tags listings
// @Produce json
// @Security BearerAuth
// @Param listingId path int true "Listing ID"
// @Success 200 {object} engine.Listing
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /listings/{listingId} [delete]
func (s *ListingService) CancelListing(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerAccount(r.Context())
	id, err := listingID(r)
	if err != nil {
		SendErrorResponse(w, "Invalid listing id", http.StatusBadRequest, nil)
		return
	}

	listing, err := s.engine.CancelListing(caller, id)
	if err != nil {
		log.Printf("[LISTING] Cancel of %d failed for %s: %v", id, caller, err)
		SendEngineError(w, err)
		return
	}

	log.Printf("[LISTING] Canceled listing %d by %s", id, caller)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listing)
}

// GetListing retrieves one listing by id
// @Summary Get listing by ID
// @Description Retrieve a listing, active or canceled
// @Tags listings
// @Produce json
// @Param listingId path int true "Listing ID"
// @Success 200 {object} engine.Listing
// @Failure 404 {object} ErrorResponse
// @Router /listings/{listingId} [get]
func (s *ListingService) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := listingID(r)
	if err != nil {
		SendErrorResponse(w, "Invalid listing id", http.StatusBadRequest, nil)
		return
	}

	listing, err := s.engine.Listing(id)
	if err != nil {
		SendEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listing)
}

// ListListings returns a page of active listings
// @Summary List active listings
// @Description Get a page of active listings ordered by id
// @Tags listings
// @Produce json
// @Param offset query int false "Page offset (default 0)"
// @Param limit query int false "Page size (default 50, max 100)"
// @Success 200 {object} object{listings=[]engine.Listing,count=int}
// @Router /listings [get]
func (s *ListingService) ListListings(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	listings := s.engine.ActiveListings(offset, limit)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"listings": listings,
		"count":    len(listings),
	})
}

// MyListings returns the caller's listings
// @Summary List own listings
// @Description Get every listing owned by the authenticated lender, active or not
// @Tags listings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{listings=[]engine.Listing,count=int}
// @Router /listings/mine [get]
func (s *ListingService) MyListings(w http.ResponseWriter, r *http.Request) {
	lender := middleware.CallerAccount(r.Context())
	if lender == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	listings := s.engine.ListingsByLender(lender)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"listings": listings,
		"count":    len(listings),
	})
}

func listingID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "listingId"), 10, 64)
}
