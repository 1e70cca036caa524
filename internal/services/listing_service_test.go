package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unitlease/backend/internal/engine"
)

func newListingRouter(service *ListingService) chi.Router {
	router := chi.NewRouter()
	router.Post("/listings", service.CreateListing)
	router.Get("/listings", service.ListListings)
	router.Get("/listings/mine", service.MyListings)
	router.Get("/listings/{listingId}", service.GetListing)
	router.Put("/listings/{listingId}", service.UpdateListing)
	router.Delete("/listings/{listingId}", service.CancelListing)
	return router
}

func TestListingService_CreateListing(t *testing.T) {
	eng, err := engine.New(engine.Config{
		Admin:             testAdmin,
		Treasury:          testTreasury,
		FeeBasisPoints:    2500,
		MinRentalDuration: 1,
		MaxRentalDuration: 1000,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, eng.MintUnits(testAdmin, testLender, testBatch, 10))

	service := NewListingService(eng)
	router := newListingRouter(service)

	t.Run("rejected without escrow approval", func(t *testing.T) {
		body, _ := json.Marshal(createListingRequest{
			BatchID: testBatch, PricePerUnitTick: 2, Units: 10, MinDuration: 1, MaxDuration: 100,
		})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("POST", "/listings", body, testLender))

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("creates once approved", func(t *testing.T) {
		require.NoError(t, eng.SetApproval(testLender, eng.EscrowAccount(), true))

		body, _ := json.Marshal(createListingRequest{
			BatchID: testBatch, PricePerUnitTick: 2, Units: 10, MinDuration: 1, MaxDuration: 100,
		})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("POST", "/listings", body, testLender))

		assert.Equal(t, http.StatusCreated, w.Code)
		var listing engine.Listing
		json.Unmarshal(w.Body.Bytes(), &listing)
		assert.Equal(t, uint64(1), listing.ID)
		assert.Equal(t, int64(10), listing.AvailableUnits)
		assert.Equal(t, int64(0), eng.BalanceOf(testLender, testBatch))
	})

	t.Run("inverted duration bounds fail validation", func(t *testing.T) {
		body, _ := json.Marshal(createListingRequest{
			BatchID: testBatch, PricePerUnitTick: 2, Units: 1, MinDuration: 50, MaxDuration: 10,
		})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("POST", "/listings", body, testLender))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unauthenticated is a 401", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/listings", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestListingService_UpdateAndCancel(t *testing.T) {
	eng, _ := newRentalEngine(t)
	service := NewListingService(eng)
	router := newListingRouter(service)

	t.Run("lender updates price and size", func(t *testing.T) {
		body, _ := json.Marshal(updateListingRequest{
			PricePerUnitTick: 3, TotalUnits: 8, MinDuration: 1, MaxDuration: 100,
		})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("PUT", "/listings/1", body, testLender))

		assert.Equal(t, http.StatusOK, w.Code)
		var listing engine.Listing
		json.Unmarshal(w.Body.Bytes(), &listing)
		assert.Equal(t, int64(3), listing.PricePerUnitTick)
		assert.Equal(t, int64(8), listing.TotalUnits)
		assert.Equal(t, int64(2), eng.BalanceOf(testLender, testBatch))
	})

	t.Run("stranger cannot update", func(t *testing.T) {
		body, _ := json.Marshal(updateListingRequest{
			PricePerUnitTick: 1, TotalUnits: 8, MinDuration: 1, MaxDuration: 100,
		})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("PUT", "/listings/1", body, testBorrower))

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("cancel returns the unrented units", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("DELETE", "/listings/1", nil, testLender))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(10), eng.BalanceOf(testLender, testBatch))
	})

	t.Run("canceled listing stays readable", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/listings/1", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var listing engine.Listing
		json.Unmarshal(w.Body.Bytes(), &listing)
		assert.False(t, listing.Active)
	})

	t.Run("cancel of a canceled listing conflicts", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("DELETE", "/listings/1", nil, testLender))

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestListingService_Pagination(t *testing.T) {
	eng, _ := newRentalEngine(t)
	service := NewListingService(eng)
	router := newListingRouter(service)

	// seed four more listings
	require.NoError(t, eng.MintUnits(testAdmin, testLender, testBatch, 4))
	for i := 0; i < 4; i++ {
		_, err := eng.CreateListing(testLender, testBatch, 1, 1, 1, 100)
		require.NoError(t, err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/listings?offset=1&limit=2", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Listings []engine.Listing `json:"listings"`
		Count    int              `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, uint64(2), resp.Listings[0].ID)
	assert.Equal(t, uint64(3), resp.Listings[1].ID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("GET", "/listings/mine", nil, testLender))
	assert.Equal(t, http.StatusOK, w.Code)
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, 5, resp.Count)
}
