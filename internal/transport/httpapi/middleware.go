package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// securityHeaders strips server-identifying headers and sets a neutral
// Server string, adapted from the teacher's SecurityHeadersMiddleware.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Server", "acp")
		next.ServeHTTP(w, r)
	})
}

// requestLog logs one line per request at Info, the way the teacher's
// handlers log each HTTP error at Warn — here extended to every request
// since this is the control plane's only externally reachable surface.
func requestLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
