package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/stellar/go/strkey"
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

// NewValidationHelper creates a validator that also understands
// stellar_address, stellar_amount and stellar_balance tags
func NewValidationHelper() *ValidationHelper {
	v := validator.New()
	// registration only fails on an empty tag or nil func
	_ = v.RegisterValidation("stellar_address", func(fl validator.FieldLevel) bool {
		return strkey.IsValidEd25519PublicKey(fl.Field().String())
	})
	_ = v.RegisterValidation("stellar_amount", func(fl validator.FieldLevel) bool {
		return models.IsPayableAmount(fl.Field().String())
	})
	_ = v.RegisterValidation("stellar_balance", func(fl validator.FieldLevel) bool {
		return models.IsValidAmount(fl.Field().String())
	})
	return &ValidationHelper{validator: v}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	var fieldErrs validator.ValidationErrors
	if validationErr != nil && errors.As(validationErr, &fieldErrs) {
		errorResp.Details = make(map[string]string)
		for _, err := range fieldErrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}
