package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError sends a minimal structured JSON error body. The full error
// envelope (code, resource, retryable) lives in httpapi's handlers; this
// helper only covers the middleware layer's own failure paths (panics,
// timeouts, a tripped circuit), which never have a richer apperrors
// value to report.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
