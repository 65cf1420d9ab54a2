package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/signportal/pkg/apperrors"
	"github.com/ekaya-inc/signportal/pkg/auth"
	"github.com/ekaya-inc/signportal/pkg/logging"
)

// ApiResponse is the success envelope shared by all JSON endpoints.
type ApiResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeData wraps data in the success envelope.
func writeData(w http.ResponseWriter, statusCode int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, statusCode int, errorCode, message string, logger *zap.Logger) {
	if err := ErrorResponse(w, statusCode, errorCode, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// WriteServiceError maps a service error to its HTTP status. Errors that do
// not wrap a known sentinel are logged and reported as 500 without detail.
func WriteServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", apperrors.Message(err), logger)
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password", logger)
	case errors.Is(err, auth.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required", logger)
	case errors.Is(err, apperrors.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", apperrors.Message(err), logger)
	case errors.Is(err, apperrors.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", apperrors.Message(err)+" not found", logger)
	case errors.Is(err, apperrors.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", apperrors.Message(err), logger)
	case errors.Is(err, apperrors.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", apperrors.Message(err), logger)
	default:
		logger.Error("Request failed", zap.String("error", logging.SanitizeError(err)))
		writeError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred", logger)
	}
}
