package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/unitlease/backend/internal/engine"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// DecodeStrict decodes a single JSON object into dst, rejecting unknown
// fields, oversized bodies, and trailing content.
func DecodeStrict(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must only contain a single JSON object")
	}
	return nil
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		errorResp.Details = make(map[string]string)
		var vErrs validator.ValidationErrors
		if errors.As(validationErr, &vErrs) {
			for _, err := range vErrs {
				errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
			}
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendEngineError maps an engine error onto the HTTP surface following the
// engine's error taxonomy: validation and conservation errors are 400s,
// authorization 403, state conflicts 409, payment 402, pause 423.
func SendEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnauthorized), errors.Is(err, engine.ErrNotApproved):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrListingNotFound), errors.Is(err, engine.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrListingNotActive),
		errors.Is(err, engine.ErrSessionNotActive),
		errors.Is(err, engine.ErrSessionNotYetEnded),
		errors.Is(err, engine.ErrReentrancyBlocked),
		errors.Is(err, engine.ErrBatchProtected):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrSystemPaused):
		status = http.StatusLocked
	case errors.Is(err, engine.ErrInsufficientPayment):
		status = http.StatusPaymentRequired
	case errors.Is(err, engine.ErrInsufficientBalance),
		errors.Is(err, engine.ErrOverflow),
		errors.Is(err, engine.ErrInvalidUnitCount),
		errors.Is(err, engine.ErrInvalidPrice),
		errors.Is(err, engine.ErrInvalidDuration),
		errors.Is(err, engine.ErrZeroAccount),
		errors.Is(err, engine.ErrFeeTooHigh):
		status = http.StatusBadRequest
	}
	SendErrorResponse(w, err.Error(), status, nil)
}
