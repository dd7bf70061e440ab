package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/tendant/simple-portal/pkg/audit"
	"github.com/tendant/simple-portal/pkg/errors"
	"github.com/tendant/simple-portal/pkg/permission"
)

// Middleware throttles requests per authenticated principal, falling back to
// the client IP for anonymous requests.
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + audit.ClientIP(r)
			if p, ok := permission.FromContext(r.Context()); ok && p.UserID != "" {
				key = "user:" + p.UserID
			}

			ok, retry := l.Allow(key)
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			seconds := strconv.Itoa(int(math.Ceil(retry.Seconds())))
			slog.Warn("Rate limit exceeded", "key", key, "method", r.Method, "path", r.URL.Path, "retry_after", seconds)
			w.Header().Set("Retry-After", seconds)
			errors.WriteJSON(w, r, errors.RateLimitExceeded(seconds))
		})
	}
}
