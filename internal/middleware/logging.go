package middleware

import (
	"net/http"
	"time"

	"github.com/urfv/yandex-tracker-mcp/internal/observability"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RequestLogger logs every HTTP request with its status and duration.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		durationMs := time.Since(start).Milliseconds()
		observability.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration_ms", durationMs)
		observability.LogRequest(r.Method, r.URL.Path, rec.status, durationMs)
	})
}
