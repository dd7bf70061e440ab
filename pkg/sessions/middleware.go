package sessions

import (
	"log/slog"
	"net/http"

	"github.com/tendant/simple-portal/pkg/permission"
)

// ActivityMiddleware records activity for every request that carries a
// principal. Mount it after the permission gate. Tracker failures are logged
// and never fail the request.
func ActivityMiddleware(tracker Tracker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p, ok := permission.FromContext(r.Context()); ok {
				if _, err := tracker.RecordActivity(r.Context(), p.UserID, p.Email); err != nil {
					slog.Warn("Failed to record activity", "user_id", p.UserID, "err", err)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
