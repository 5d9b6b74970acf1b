package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ruralpay/offline-wallet/internal/keystore"
	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/ruralpay/offline-wallet/internal/services"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1_048_576

var log = logrus.WithField("component", "handlers")

// decodeBody reads exactly one JSON object into dst and validates it. On
// failure the error response has already been written.
func decodeBody(w http.ResponseWriter, r *http.Request, v *services.ValidationHelper, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if v != nil {
		if err := v.ValidateStruct(dst); err != nil {
			services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

// sendServiceError maps service sentinels onto status codes
func sendServiceError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
	case errors.Is(err, services.ErrMemoTooLong),
		errors.Is(err, services.ErrInvalidAddress),
		errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, keystore.ErrInvalidKey),
		errors.Is(err, keystore.ErrSeedMismatch),
		errors.Is(err, keystore.ErrInvalidSeed):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrNotFound),
		errors.Is(err, services.ErrAccountNotFound):
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, services.ErrAlreadyCompleted),
		errors.Is(err, services.ErrInFlight),
		errors.Is(err, services.ErrAccountExists):
		services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, keystore.ErrLocked):
		services.SendErrorResponse(w, err.Error(), http.StatusLocked, nil)
	case errors.Is(err, services.ErrOffline):
		services.SendErrorResponse(w, err.Error(), http.StatusServiceUnavailable, nil)
	default:
		log.WithError(err).Error("request failed")
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}

// isLookupError reports whether err came from local state rather than the ledger
func isLookupError(err error) bool {
	return errors.Is(err, services.ErrAccountNotFound) || errors.Is(err, services.ErrNotFound)
}
