package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// loggingResponseWriter captures the status code and response size for
// the access log line.
type loggingResponseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// Logging returns a middleware that emits one structured line per
// request, keyed the way the pipeline workers log (camelCase,
// requestId). Probe and scrape endpoints log at debug so steady-state
// health checks do not drown deployment events.
func Logging(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			level := slog.LevelInfo
			switch r.URL.Path {
			case "/health", "/ready", "/metrics":
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"route", normalizePath(r),
				"status", wrapped.status,
				"bytes", wrapped.bytes,
				"durationMs", time.Since(start).Milliseconds(),
				"requestId", chimiddleware.GetReqID(r.Context()),
				"remoteAddr", r.RemoteAddr,
				"userAgent", r.UserAgent(),
			)
		})
	}
}
