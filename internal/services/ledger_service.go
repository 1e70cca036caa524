package services

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/unitlease/backend/internal/engine"
	"github.com/unitlease/backend/internal/middleware"
)

// LedgerService exposes the unit ledger and the funds ledger over HTTP.
// Transfers and approvals are always authorized as the authenticated
// caller, never as a caller-supplied account.
type LedgerService struct {
	engine    *engine.Engine
	validator *ValidationHelper
}

func NewLedgerService(eng *engine.Engine) *LedgerService {
	return &LedgerService{
		engine:    eng,
		validator: NewValidationHelper(),
	}
}

// BalanceEnquiry reads a unit balance
// @Summary Unit balance enquiry
// @Description Read a holder's unit balance for a batch. Defaults to the caller's own account.
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param batchId query string true "Unit batch ID"
// @Param holder query string false "Holder account (defaults to caller)"
// @Success 200 {object} object{holder=string,batchId=string,balance=int64}
// @Router /ledger/balance-enquiry [get]
func (s *LedgerService) BalanceEnquiry(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerAccount(r.Context())
	batchID := r.URL.Query().Get("batchId")
	if batchID == "" {
		SendErrorResponse(w, "batchId query parameter required", http.StatusBadRequest, nil)
		return
	}
	holder := r.URL.Query().Get("holder")
	if holder == "" {
		holder = caller
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"holder":  holder,
		"batchId": batchID,
		"balance": s.engine.BalanceOf(holder, batchID),
	})
}

type transferRequest struct {
	From    string `json:"from"`
	To      string `json:"to" validate:"required"`
	BatchID string `json:"batchId" validate:"required"`
	Units   int64  `json:"units" validate:"required,gt=0"`
}

// Transfer moves units between holders
// @Summary Transfer units
// @Description Move units of a batch. The caller must own the source account or be an approved operator of it.
// @Tags ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body transferRequest true "Transfer"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /ledger/transfer [post]
func (s *LedgerService) Transfer(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerAccount(r.Context())

	var req transferRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	from := req.From
	if from == "" {
		from = caller
	}

	if err := s.engine.TransferUnits(caller, from, req.To, req.BatchID, req.Units); err != nil {
		log.Printf("[LEDGER] Transfer failed %s -> %s: %v", from, req.To, err)
		SendEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

type batchTransferEntry struct {
	BatchID string `json:"batchId" validate:"required"`
	Units   int64  `json:"units" validate:"required,gt=0"`
}

type batchTransferRequest struct {
	From    string               `json:"from"`
	To      string               `json:"to" validate:"required"`
	Entries []batchTransferEntry `json:"entries" validate:"required,min=1,dive"`
}

// TransferBatch moves several batches between the same pair of holders
// @Summary Transfer multiple batches
// @Description Move units across several batches in one atomic operation; a failing leg moves nothing
// @Tags ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body batchTransferRequest true "Batch transfer"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /ledger/transfer-batch [post]
func (s *LedgerService) TransferBatch(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerAccount(r.Context())

	var req batchTransferRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	from := req.From
	if from == "" {
		from = caller
	}

	entries := make([]engine.BatchEntry, len(req.Entries))
	for i, entry := range req.Entries {
		entries[i] = engine.BatchEntry{Batch: entry.BatchID, Qty: entry.Units}
	}

	if err := s.engine.TransferUnitsBatch(caller, from, req.To, entries); err != nil {
		log.Printf("[LEDGER] Batch transfer failed %s -> %s: %v", from, req.To, err)
		SendEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

type approveRequest struct {
	Operator string `json:"operator" validate:"required"`
	Approved bool   `json:"approved"`
}

// Approve grants or revokes an operator
// @Summary Set operator approval
// @Description Grant or revoke another account's right to move the caller's units. Approving the escrow account is required before listing.
// @Tags ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body approveRequest true "Approval"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} ErrorResponse
// @Router /ledger/approve [post]
func (s *LedgerService) Approve(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerAccount(r.Context())

	var req approveRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := s.engine.SetApproval(caller, req.Operator, req.Approved); err != nil {
		SendEngineError(w, err)
		return
	}

	log.Printf("[LEDGER] Approval %s -> %s set to %v", caller, req.Operator, req.Approved)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

type depositFundsRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

// DepositFunds credits the caller's currency account
// @Summary Deposit funds
// @Description Credit the caller's currency balance, from which session payments are drawn
// @Tags ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body depositFundsRequest true "Deposit"
// @Success 200 {object} object{account=string,balance=int64}
// @Failure 400 {object} ErrorResponse
// @Router /funds/deposit [post]
func (s *LedgerService) DepositFunds(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerAccount(r.Context())
	if caller == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req depositFundsRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := s.engine.DepositFunds(caller, req.Amount); err != nil {
		SendEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"account": caller,
		"balance": s.engine.FundsBalance(caller),
	})
}

// FundsBalanceEnquiry reads the caller's currency balance
// @Summary Funds balance enquiry
// @Description Read the caller's currency account balance
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{account=string,balance=int64}
// @Router /funds/balance-enquiry [get]
func (s *LedgerService) FundsBalanceEnquiry(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerAccount(r.Context())
	if caller == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"account": caller,
		"balance": s.engine.FundsBalance(caller),
	})
}
