package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/urfv/yandex-tracker-mcp/internal/observability"
)

// Recovery is HTTP middleware that recovers from panics.
// It logs the stack trace and returns a 500 Internal Server Error.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				requestID := GetRequestID(r.Context())
				observability.Error("panic recovered", "request_id", requestID, "panic", err, "stack", string(debug.Stack()))

				subject := ""
				if authCtx := GetAuthContext(r.Context()); authCtx != nil {
					subject = authCtx.Subject
				}
				observability.LogSecurityEvent(requestID, subject, "panic_recovered", map[string]any{
					"error": fmt.Sprintf("%v", err),
				})

				writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
