package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unitlease/backend/internal/engine"
	"github.com/unitlease/backend/internal/middleware"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) Now() time.Time          { return c.t }
func (c *stepClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

const (
	testAdmin    = "acct:admin"
	testTreasury = "acct:treasury"
	testLender   = "acct:lender"
	testBorrower = "acct:borrower"
	testBatch    = "batch:gpu"
)

// newRentalEngine builds an engine with one active 10-unit listing at
// price 2 per unit-tick and a funded borrower.
func newRentalEngine(t *testing.T) (*engine.Engine, *stepClock) {
	t.Helper()
	clock := &stepClock{t: time.Unix(1_700_000_000, 0)}
	eng, err := engine.New(engine.Config{
		Admin:             testAdmin,
		Treasury:          testTreasury,
		FeeBasisPoints:    2500,
		MinRentalDuration: 1,
		MaxRentalDuration: 1000,
	}, nil, engine.WithClock(clock.Now))
	require.NoError(t, err)

	require.NoError(t, eng.MintUnits(testAdmin, testLender, testBatch, 10))
	require.NoError(t, eng.SetApproval(testLender, eng.EscrowAccount(), true))
	require.NoError(t, eng.DepositFunds(testBorrower, 1000))
	_, err = eng.CreateListing(testLender, testBatch, 2, 10, 1, 100)
	require.NoError(t, err)
	return eng, clock
}

func authedRequest(method, target string, body []byte, account string) *http.Request {
	r := httptest.NewRequest(method, target, bytes.NewBuffer(body))
	return r.WithContext(context.WithValue(r.Context(), middleware.AccountIDKey, account))
}

func TestSessionService_StartSession(t *testing.T) {
	eng, _ := newRentalEngine(t)
	service := NewSessionService(eng, nil, time.Hour)

	t.Run("opens a session and reports payment", func(t *testing.T) {
		body, _ := json.Marshal(startSessionRequest{ListingID: 1, Units: 2, Duration: 5, Payment: 100})
		w := httptest.NewRecorder()
		service.StartSession(w, authedRequest("POST", "/sessions", body, testBorrower))

		assert.Equal(t, http.StatusCreated, w.Code)
		var session engine.Session
		json.Unmarshal(w.Body.Bytes(), &session)
		assert.Equal(t, uint64(1), session.ID)
		assert.Equal(t, int64(20), session.AmountPaid)
		assert.Equal(t, int64(2), eng.BalanceOf(testBorrower, testBatch))
	})

	t.Run("insufficient payment is a 402", func(t *testing.T) {
		body, _ := json.Marshal(startSessionRequest{ListingID: 1, Units: 2, Duration: 5, Payment: 3})
		w := httptest.NewRecorder()
		service.StartSession(w, authedRequest("POST", "/sessions", body, testBorrower))

		assert.Equal(t, http.StatusPaymentRequired, w.Code)
	})

	t.Run("unknown listing is a 404", func(t *testing.T) {
		body, _ := json.Marshal(startSessionRequest{ListingID: 99, Units: 1, Duration: 5, Payment: 100})
		w := httptest.NewRecorder()
		service.StartSession(w, authedRequest("POST", "/sessions", body, testBorrower))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		service.StartSession(w, authedRequest("POST", "/sessions", []byte(`{"listingId":1,"units":1,"duration":5,"payment":50,"bogus":true}`), testBorrower))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unauthenticated is a 401", func(t *testing.T) {
		body, _ := json.Marshal(startSessionRequest{ListingID: 1, Units: 1, Duration: 5, Payment: 50})
		w := httptest.NewRecorder()
		service.StartSession(w, httptest.NewRequest("POST", "/sessions", bytes.NewBuffer(body)))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestSessionService_Idempotency(t *testing.T) {
	eng, _ := newRentalEngine(t)
	redisClient, mock := redismock.NewClientMock()
	service := NewSessionService(eng, redisClient, time.Hour)

	idemKey := "retry-abc"
	redisKey := "idem:" + testBorrower + ":" + idemKey

	t.Run("first request opens and records", func(t *testing.T) {
		mock.ExpectGet(redisKey).RedisNil()
		mock.Regexp().ExpectSet(redisKey, `.*`, time.Hour).SetVal("OK")

		body, _ := json.Marshal(startSessionRequest{ListingID: 1, Units: 2, Duration: 5, Payment: 100})
		r := authedRequest("POST", "/sessions", body, testBorrower)
		r.Header.Set("Idempotency-Key", idemKey)
		w := httptest.NewRecorder()
		service.StartSession(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed request returns the original session", func(t *testing.T) {
		original, err := eng.Session(1)
		require.NoError(t, err)
		cached, _ := json.Marshal(original)
		mock.ExpectGet(redisKey).SetVal(string(cached))

		body, _ := json.Marshal(startSessionRequest{ListingID: 1, Units: 2, Duration: 5, Payment: 100})
		r := authedRequest("POST", "/sessions", body, testBorrower)
		r.Header.Set("Idempotency-Key", idemKey)
		w := httptest.NewRecorder()
		service.StartSession(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var replayed engine.Session
		json.Unmarshal(w.Body.Bytes(), &replayed)
		assert.Equal(t, original.ID, replayed.ID)
		// no second session was opened
		_, err = eng.Session(2)
		assert.ErrorIs(t, err, engine.ErrSessionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSessionService_EndSession(t *testing.T) {
	eng, clock := newRentalEngine(t)
	service := NewSessionService(eng, nil, time.Hour)

	router := chi.NewRouter()
	router.Put("/sessions/{sessionId}/end", service.EndSession)
	router.Get("/sessions/{sessionId}", service.GetSession)

	_, err := eng.StartSession(testBorrower, 1, 2, 5, 100)
	require.NoError(t, err)

	t.Run("early closure conflicts under the full-term policy", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("PUT", "/sessions/1/end", nil, testBorrower))

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("closure after the term succeeds", func(t *testing.T) {
		clock.Advance(6 * time.Second)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("PUT", "/sessions/1/end", nil, testBorrower))

		assert.Equal(t, http.StatusOK, w.Code)
		var session engine.Session
		json.Unmarshal(w.Body.Bytes(), &session)
		assert.False(t, session.Active)
		assert.Equal(t, int64(0), eng.BalanceOf(testBorrower, testBatch))
	})

	t.Run("second closure is a 409", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("PUT", "/sessions/1/end", nil, testBorrower))

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("closed session stays readable", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("GET", "/sessions/1", nil, testBorrower))

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown session is a 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("PUT", "/sessions/42/end", nil, testBorrower))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSessionService_MySessions(t *testing.T) {
	eng, _ := newRentalEngine(t)
	service := NewSessionService(eng, nil, time.Hour)

	_, err := eng.StartSession(testBorrower, 1, 1, 5, 100)
	require.NoError(t, err)
	_, err = eng.StartSession(testBorrower, 1, 1, 5, 100)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	service.MySessions(w, authedRequest("GET", "/sessions", nil, testBorrower))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Sessions []engine.Session `json:"sessions"`
		Count    int              `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, 2, resp.Count)
}
