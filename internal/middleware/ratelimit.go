package middleware

import (
	"net/http"
	"time"

	"chat-gateway/internal/apperrors"

	"github.com/go-chi/httprate"
	"github.com/rs/zerolog/log"
)

// RateLimit allows each client address at most requests per window.
// Requests over the limit get 429. A non-positive count disables the limit.
func RateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	if requests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			log.Warn().
				Str("remote_addr", r.RemoteAddr).
				Str("path", r.URL.Path).
				Msg("Rate limit exceeded")
			respondError(w, apperrors.ErrTooManyRequests)
		}),
	)
}
