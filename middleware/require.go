package middleware

import (
	"net/http"

	"github.com/vhorizon/authstate"
)

// RequireUser rejects requests without a signed-in user. The snapshot it checked
// is attached to the request context when Gate has not already done so.
func RequireUser(src Source) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap, ok := snapshotFor(src, r)
			if !ok {
				http.Error(w, "session loading", http.StatusServiceUnavailable)
				return
			}
			if snap.User == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(authstate.WithSnapshot(r.Context(), snap)))
		})
	}
}

// RequireAdmin rejects requests unless the signed-in user holds the admin role.
// Requests without a user get 401 rather than 403.
func RequireAdmin(src Source) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap, ok := snapshotFor(src, r)
			if !ok {
				http.Error(w, "session loading", http.StatusServiceUnavailable)
				return
			}
			if snap.User == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !snap.IsAdmin {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(authstate.WithSnapshot(r.Context(), snap)))
		})
	}
}
