package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	apperrors "heimdall-backend/internal/errors"
)

// badRequestf builds a validation error for a malformed request body.
func badRequestf(format string, args ...interface{}) error {
	return apperrors.Validation(string(apperrors.CodeInvalidFormat), fmt.Sprintf(format, args...)).Build()
}

// respondJSON writes status and encodes data as the response body.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// errorEnvelope is the response body for every rejected request.
type errorEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Resource  string `json:"resource,omitempty"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

// respondError maps an error to its HTTP status and a structured body. A
// *apperrors.UnifiedError carries its own code/resource/retryable; any
// other error is reported as an opaque internal error since its details
// were never meant for a client.
func respondError(w http.ResponseWriter, err error) {
	var uerr *apperrors.UnifiedError
	if errors.As(err, &uerr) {
		status := apperrors.ErrorCode(uerr.Code).HTTPStatusCode()
		env := errorEnvelope{}
		env.Error.Code = uerr.Code
		env.Error.Message = uerr.Message
		env.Error.Resource = uerr.Resource
		env.Error.Retryable = uerr.Retryable
		respondJSON(w, status, env)
		return
	}

	env := errorEnvelope{}
	env.Error.Code = string(apperrors.CodeInternalError)
	env.Error.Message = "internal server error"
	respondJSON(w, http.StatusInternalServerError, env)
}
