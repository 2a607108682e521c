package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		ev := logger.Info()
		if rec.status >= http.StatusInternalServerError {
			ev = logger.Warn()
		}

		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("from", r.RemoteAddr).
			Int("status", rec.status).
			Dur("dur", time.Since(start)).
			Msg("http request")
	})
}
