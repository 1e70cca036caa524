package services

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"

	"github.com/unitlease/backend/internal/engine"
	"github.com/unitlease/backend/internal/middleware"
)

type SessionService struct {
	engine         *engine.Engine
	redis          *redis.Client
	validator      *ValidationHelper
	idempotencyTTL time.Duration
}

func NewSessionService(eng *engine.Engine, redisClient *redis.Client, idempotencyTTL time.Duration) *SessionService {
	if idempotencyTTL <= 0 {
		idempotencyTTL = 24 * time.Hour
	}
	return &SessionService{
		engine:         eng,
		redis:          redisClient,
		validator:      NewValidationHelper(),
		idempotencyTTL: idempotencyTTL,
	}
}

type startSessionRequest struct {
	ListingID uint64 `json:"listingId" validate:"required"`
	Units     int64  `json:"units" validate:"required,gt=0"`
	Duration  int64  `json:"duration" validate:"required,gt=0"`
	Payment   int64  `json:"payment" validate:"required,gt=0"`
}

// StartSession opens a rental against a listing
// @Summary Start a rental session
// @Description Pay for and open a time-bounded rental of units from a listing. Honors the Idempotency-Key header: a replayed request returns the original session instead of opening a second one.
// @Tags sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Client-chosen key for safe retries"
// @Param request body startSessionRequest true "Session parameters"
// @Success 201 {object} engine.Session
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 423 {object} ErrorResponse
// @Router /sessions [post]
func (s *SessionService) StartSession(w http.ResponseWriter, r *http.Request) {
	borrower := middleware.CallerAccount(r.Context())
	if borrower == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req startSessionRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		if session, ok := s.replaySession(r.Context(), borrower, idemKey); ok {
			log.Printf("[SESSION] Replayed idempotent start for %s key=%s session=%d", borrower, idemKey, session.ID)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(session)
			return
		}
	}

	session, err := s.engine.StartSession(borrower, req.ListingID, req.Units, req.Duration, req.Payment)
	if err != nil {
		log.Printf("[SESSION] Start failed for %s on listing %d: %v", borrower, req.ListingID, err)
		SendEngineError(w, err)
		return
	}

	if idemKey != "" {
		s.recordSession(r.Context(), borrower, idemKey, session)
	}

	log.Printf("[SESSION] Started session %d: borrower=%s listing=%d units=%d paid=%d",
		session.ID, borrower, req.ListingID, req.Units, session.AmountPaid)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(session)
}

// EndSession closes a rental session
// @Summary End a rental session
// @Description Close a session, returning custody of the borrowed units. Under the full-term policy the scheduled end time must have passed.
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Param sessionId path int true "Session ID"
// @Success 200 {object} engine.Session
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{sessionId}/end [put]
func (s *SessionService) EndSession(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerAccount(r.Context())
	id, err := strconv.ParseUint(chi.URLParam(r, "sessionId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid session id", http.StatusBadRequest, nil)
		return
	}

	session, err := s.engine.EndSession(caller, id)
	if err != nil {
		log.Printf("[SESSION] End of %d failed for %s: %v", id, caller, err)
		SendEngineError(w, err)
		return
	}

	log.Printf("[SESSION] Ended session %d by %s", id, caller)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session)
}

// GetSession retrieves one session by id
// @Summary Get session by ID
// @Description Retrieve a session, open or closed
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Param sessionId path int true "Session ID"
// @Success 200 {object} engine.Session
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{sessionId} [get]
func (s *SessionService) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "sessionId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid session id", http.StatusBadRequest, nil)
		return
	}

	session, err := s.engine.Session(id)
	if err != nil {
		SendEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session)
}

// MySessions returns the caller's sessions
// @Summary List own sessions
// @Description Get every session opened by the authenticated borrower
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{sessions=[]engine.Session,count=int}
// @Router /sessions [get]
func (s *SessionService) MySessions(w http.ResponseWriter, r *http.Request) {
	borrower := middleware.CallerAccount(r.Context())
	if borrower == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	sessions := s.engine.SessionsByBorrower(borrower)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *SessionService) idemRedisKey(borrower, key string) string {
	return "idem:" + borrower + ":" + key
}

func (s *SessionService) replaySession(ctx context.Context, borrower, key string) (engine.Session, bool) {
	if s.redis == nil {
		return engine.Session{}, false
	}
	data, err := s.redis.Get(ctx, s.idemRedisKey(borrower, key)).Bytes()
	if err != nil {
		return engine.Session{}, false
	}
	var session engine.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return engine.Session{}, false
	}
	return session, true
}

func (s *SessionService) recordSession(ctx context.Context, borrower, key string, session engine.Session) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(session)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, s.idemRedisKey(borrower, key), data, s.idempotencyTTL).Err(); err != nil {
		log.Printf("[SESSION] Failed to record idempotency key for %s: %v", borrower, err)
	}
}
