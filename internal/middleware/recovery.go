package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// Recovery middleware handles panics and converts them to proper HTTP error responses
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					requestID := GetRequestIDFromRequest(r)
					logger.Error("panic recovered",
						zap.String("request_id", requestID),
						zap.Any("panic", err),
						zap.String("stack", string(debug.Stack())),
					)

					// If the response has already been written, there's nothing
					// more we can do — the connection closes as-is.
					if w.Header().Get("Content-Type") == "" {
						writeError(w, http.StatusInternalServerError, "internal server error")
					}
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// DefaultPanicHandler writes the same JSON error body as Recovery, with the
// request id appended to the message.
func DefaultPanicHandler(w http.ResponseWriter, r *http.Request, err any) {
	if w.Header().Get("Content-Type") == "" {
		writeError(w, http.StatusInternalServerError,
			fmt.Sprintf("internal server error - request id: %s", GetRequestIDFromRequest(r)))
	}
}