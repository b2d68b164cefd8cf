package middleware

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Timeout wraps a request in a context deadline and, if the handler
// hasn't finished by then, responds with 408 instead of leaving the
// client hanging. The handler goroutine itself is not killed — it keeps
// running until it notices ctx.Done(), matching the cooperative
// cancellation contract the rest of the process follows.
func Timeout(timeout time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			r = r.WithContext(ctx)
			done := make(chan struct{})

			go func() {
				defer func() {
					if err := recover(); err != nil {
						logger.Error("panic in timeout-wrapped handler",
							zap.String("request_id", GetRequestIDFromRequest(r)),
							zap.Any("panic", err),
						)
					}
				}()
				next.ServeHTTP(w, r)
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				requestID := GetRequestIDFromRequest(r)
				logger.Warn("request timed out", zap.String("request_id", requestID), zap.Duration("timeout", timeout))
				if w.Header().Get("Content-Type") == "" {
					writeError(w, http.StatusRequestTimeout, "request timeout")
				}
			}
		})
	}
}
