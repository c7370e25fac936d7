package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxQueryLogLength = 2048

// Logging writes a structured access log for each request. 5xx log at error,
// 4xx at warn, everything else at info. A request-scoped logger is attached
// to the context for handlers (see zerolog.Ctx).
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		l := log.With().
			Str("request_id", GetRequestID(r.Context())).
			Str("method", r.Method).
			Str("remote_ip", r.RemoteAddr).
			Str("user_id", r.Header.Get(HeaderUserID)).
			Logger()
		r = r.WithContext(l.WithContext(r.Context()))

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		ev := l.Info()
		switch {
		case wrapped.statusCode >= 500:
			ev = l.Error()
		case wrapped.statusCode >= 400:
			ev = l.Warn()
		}
		ev.Str("path", routePattern(r)).
			Str("query", truncate(r.URL.RawQuery, maxQueryLogLength)).
			Int("status", wrapped.statusCode).
			Int("bytes_out", wrapped.bytes).
			Dur("latency", time.Since(start)).
			Msg("request")
	})
}

// LoggerFrom returns the request-scoped logger, or the global one.
func LoggerFrom(r *http.Request) *zerolog.Logger {
	l := zerolog.Ctx(r.Context())
	if l.GetLevel() == zerolog.Disabled {
		g := log.With().Logger()
		return &g
	}
	return l
}

// routePattern is the matched chi route, falling back to the raw path when
// nothing matched.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	bytes       int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
