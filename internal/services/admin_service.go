package services

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/unitlease/backend/internal/engine"
	"github.com/unitlease/backend/internal/middleware"
)

// AdminService exposes the administrative engine operations. Routes using
// it must sit behind the AdminOnly middleware; the engine re-checks the
// caller against its own administrator identity regardless.
type AdminService struct {
	engine    *engine.Engine
	validator *ValidationHelper
}

func NewAdminService(eng *engine.Engine) *AdminService {
	return &AdminService{
		engine:    eng,
		validator: NewValidationHelper(),
	}
}

type setFeeRequest struct {
	BasisPoints int64 `json:"basisPoints" validate:"gte=0"`
}

// SetFee updates the platform fee rate
// @Summary Set platform fee
// @Description Update the platform fee in basis points (must be below 10000)
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body setFeeRequest true "Fee rate"
// @Success 200 {object} object{success=bool,basisPoints=int64}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /admin/fee [put]
func (s *AdminService) SetFee(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerAccount(r.Context())

	var req setFeeRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := s.engine.SetFeeBasisPoints(caller, req.BasisPoints); err != nil {
		log.Printf("[ADMIN] Fee update to %d rejected for %s: %v", req.BasisPoints, caller, err)
		SendEngineError(w, err)
		return
	}

	log.Printf("[ADMIN] Fee set to %d bps by %s", req.BasisPoints, caller)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "basisPoints": req.BasisPoints})
}

type setTreasuryRequest struct {
	Treasury string `json:"treasury" validate:"required"`
}

// SetTreasury changes the fee payee account
// @Summary Set treasury account
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body setTreasuryRequest true "Treasury account"
// @Success 200 {object} object{success=bool}
// @Failure 403 {object} ErrorResponse
// @Router /admin/treasury [put]
func (s *AdminService) SetTreasury(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerAccount(r.Context())

	var req setTreasuryRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := s.engine.SetTreasury(caller, req.Treasury); err != nil {
		SendEngineError(w, err)
		return
	}

	log.Printf("[ADMIN] Treasury set to %s by %s", req.Treasury, caller)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

type setBoundsRequest struct {
	MinDuration int64 `json:"minDuration" validate:"required,gt=0"`
	MaxDuration int64 `json:"maxDuration" validate:"required,gtefield=MinDuration"`
}

// SetDurationBounds updates the global rental duration window
// @Summary Set global duration bounds
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body setBoundsRequest true "Duration bounds in seconds"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /admin/duration-bounds [put]
func (s *AdminService) SetDurationBounds(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerAccount(r.Context())

	var req setBoundsRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := s.engine.SetDurationBounds(caller, req.MinDuration, req.MaxDuration); err != nil {
		SendEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

type setPauseRequest struct {
	Paused bool `json:"paused"`
}

// SetPause toggles the emergency stop
// @Summary Toggle emergency pause
// @Description While paused, listing creation and session start are rejected; session end and cancel keep working
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body setPauseRequest true "Pause flag"
// @Success 200 {object} object{success=bool,paused=bool}
// @Failure 403 {object} ErrorResponse
// @Router /admin/pause [put]
func (s *AdminService) SetPause(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerAccount(r.Context())

	var req setPauseRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := s.engine.SetPaused(caller, req.Paused); err != nil {
		SendEngineError(w, err)
		return
	}

	log.Printf("[ADMIN] Pause set to %v by %s", req.Paused, caller)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "paused": req.Paused})
}

type transferAdminRequest struct {
	Successor string `json:"successor" validate:"required"`
}

// TransferAdmin hands the administrator role to a successor
// @Summary Transfer administrator role
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body transferAdminRequest true "Successor account"
// @Success 200 {object} object{success=bool}
// @Failure 403 {object} ErrorResponse
// @Router /admin/transfer [put]
func (s *AdminService) TransferAdmin(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerAccount(r.Context())

	var req transferAdminRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := s.engine.TransferAdmin(caller, req.Successor); err != nil {
		SendEngineError(w, err)
		return
	}

	log.Printf("[ADMIN] Administrator role transferred from %s to %s", caller, req.Successor)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

type mintRequest struct {
	To      string `json:"to" validate:"required"`
	BatchID string `json:"batchId" validate:"required"`
	Units   int64  `json:"units" validate:"required,gt=0"`
}

// Mint registers the initial deposit of a unit batch
// @Summary Mint units
// @Description Credit a holder with newly registered units. The batch becomes protected from emergency recovery.
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body mintRequest true "Mint"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /admin/mint [post]
func (s *AdminService) Mint(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerAccount(r.Context())

	var req mintRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := s.engine.MintUnits(caller, req.To, req.BatchID, req.Units); err != nil {
		SendEngineError(w, err)
		return
	}

	log.Printf("[ADMIN] Minted %d of %s to %s", req.Units, req.BatchID, req.To)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

type recoverRequest struct {
	BatchID string `json:"batchId" validate:"required"`
	To      string `json:"to" validate:"required"`
	Units   int64  `json:"units" validate:"required,gt=0"`
}

// Recover moves stray assets out of escrow custody
// @Summary Emergency asset recovery
// @Description Move units of an unmanaged batch out of the escrow account. Batches whitelisted at mint time are refused.
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body recoverRequest true "Recovery"
// @Success 200 {object} object{success=bool}
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/recover [post]
func (s *AdminService) Recover(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerAccount(r.Context())

	var req recoverRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := s.engine.RecoverAssets(caller, req.BatchID, req.To, req.Units); err != nil {
		log.Printf("[ADMIN] Recovery of %s rejected: %v", req.BatchID, err)
		SendEngineError(w, err)
		return
	}

	log.Printf("[ADMIN] Recovered %d of %s to %s", req.Units, req.BatchID, req.To)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

type setBatchTrustRequest struct {
	BatchID string `json:"batchId" validate:"required"`
	Trusted bool   `json:"trusted"`
}

// SetBatchTrust edits the recovery-protected batch set
// @Summary Set batch trust
// @Description Mark a batch as protected from (or eligible for) emergency recovery
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body setBatchTrustRequest true "Batch trust flag"
// @Success 200 {object} object{success=bool}
// @Failure 403 {object} ErrorResponse
// @Router /admin/batch-trust [put]
func (s *AdminService) SetBatchTrust(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerAccount(r.Context())

	var req setBatchTrustRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := s.engine.SetBatchTrusted(caller, req.BatchID, req.Trusted); err != nil {
		SendEngineError(w, err)
		return
	}

	log.Printf("[ADMIN] Batch %s trust set to %v by %s", req.BatchID, req.Trusted, caller)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

// Status reports engine configuration for dashboards
// @Summary Engine status
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{admin=string,feeBasisPoints=int64,paused=bool}
// @Router /admin/status [get]
func (s *AdminService) Status(w http.ResponseWriter, r *http.Request) {
	min, max := s.engine.DurationBounds()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"admin":          s.engine.Admin(),
		"feeBasisPoints": s.engine.FeeBasisPoints(),
		"paused":         s.engine.Paused(),
		"minDuration":    min,
		"maxDuration":    max,
		"escrowAccount":  s.engine.EscrowAccount(),
	})
}
