package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prudhvinik1/moonbattery/internal/services"
	"go.uber.org/zap"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeValidation                = "validation_error"
	ErrCodeUnauthorized              = "unauthorized"
	ErrCodeDuplicateMacAddress       = "duplicate_mac_address"
	ErrCodeDeviceNotFound            = "device_not_found"
	ErrCodeConfigurationUpdateFailed = "configuration_update_failed"
	ErrCodeInternal                  = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // connection may already be gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
}

// writeServiceError maps service errors to responses. Server-side failures
// are logged with full detail and returned with an opaque message.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidMacAddress),
		errors.Is(err, services.ErrInvalidConfiguration):
		writeValidationError(w, err.Error())
	case errors.Is(err, services.ErrInvalidCredential):
		writeUnauthorized(w, "invalid credential")
	case errors.Is(err, services.ErrDuplicateMacAddress):
		writeError(w, http.StatusBadRequest, ErrCodeDuplicateMacAddress, "mac address already registered")
	case errors.Is(err, services.ErrDeviceNotFound):
		writeError(w, http.StatusBadRequest, ErrCodeDeviceNotFound, "device not found")
	case errors.Is(err, services.ErrConfigurationUpdateFailed):
		logger.Error("configuration update failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, ErrCodeConfigurationUpdateFailed, "configuration update failed")
	default:
		logger.Error("internal error", zap.Error(err))
		writeInternalError(w)
	}
}
