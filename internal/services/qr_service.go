package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"

	"github.com/unitlease/backend/internal/engine"
	"github.com/unitlease/backend/internal/middleware"
)

// QRService issues short-lived share codes for active listings so a
// prospective borrower can scan one and land on the listing directly.
type QRService struct {
	engine    *engine.Engine
	redis     *redis.Client
	validator *ValidationHelper
	ttl       time.Duration
}

// ShareCodeResponse represents a generated listing share code
// @Description Listing share code with an inline PNG rendering
type ShareCodeResponse struct {
	Code      string `json:"code"`
	Image     string `json:"image"` // base64-encoded PNG
	ExpiresAt int64  `json:"expiresAt"`
}

// ResolveCodeRequest represents a share code resolution request
type ResolveCodeRequest struct {
	Code string `json:"code" validate:"required"`
}

func NewQRService(eng *engine.Engine, redisClient *redis.Client, ttl time.Duration) *QRService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QRService{
		engine:    eng,
		redis:     redisClient,
		validator: NewValidationHelper(),
		ttl:       ttl,
	}
}

// ShareListing generates a QR share code for a listing
// @Summary Generate a listing share code
// @Description Generate a short-lived QR code that resolves to the listing
// @Tags listings
// @Produce json
// @Security BearerAuth
// @Param listingId path int true "Listing ID"
// @Success 200 {object} ShareCodeResponse
// @Failure 404 {object} ErrorResponse
// @Router /listings/{listingId}/qr [get]
func (s *QRService) ShareListing(w http.ResponseWriter, r *http.Request) {
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
	if !listing.Active {
		SendEngineError(w, engine.ErrListingNotActive)
		return
	}

	caller := middleware.CallerAccount(r.Context())
	code, image, err := s.generateShareCode(r.Context(), listing.ID, caller)
	if err != nil {
		log.Printf("[QR] Share code generation failed for listing %d: %v", listing.ID, err)
		SendErrorResponse(w, "Failed to generate share code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ShareCodeResponse{
		Code:      code,
		Image:     image,
		ExpiresAt: time.Now().Add(s.ttl).Unix(),
	})
}

// ResolveShareCode resolves a previously issued share code
// @Summary Resolve a listing share code
// @Description Exchange a scanned share code for the listing it points at
// @Tags listings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ResolveCodeRequest true "Share code"
// @Success 200 {object} engine.Listing
// @Failure 404 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /listings/qr/resolve [post]
func (s *QRService) ResolveShareCode(w http.ResponseWriter, r *http.Request) {
	var req ResolveCodeRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	payload, err := s.redeemShareCode(r.Context(), req.Code)
	if err != nil {
		SendErrorResponse(w, "Invalid or expired share code", http.StatusGone, nil)
		return
	}

	listing, err := s.engine.Listing(payload.ListingID)
	if err != nil {
		SendEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listing)
}

type shareCodePayload struct {
	ListingID uint64 `json:"listingId"`
	IssuedBy  string `json:"issuedBy"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

func (s *QRService) generateShareCode(ctx context.Context, listingID uint64, issuedBy string) (string, string, error) {
	payload := shareCodePayload{
		ListingID: listingID,
		IssuedBy:  issuedBy,
		Timestamp: time.Now().Unix(),
		Nonce:     generateNonce(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("qr:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, s.ttl).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return code, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// redeemShareCode is single-use: the key is deleted once read.
func (s *QRService) redeemShareCode(ctx context.Context, code string) (*shareCodePayload, error) {
	key := fmt.Sprintf("qr:%s", code)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired share code")
	}
	if err != nil {
		return nil, err
	}

	var payload shareCodePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return &payload, nil
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
