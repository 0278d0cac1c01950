package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vhorizon/authstate"
)

// Source is anything that can report the current identity snapshot.
// *authstate.Resolver satisfies it.
type Source interface {
	Snapshot() authstate.Snapshot
}

// DefaultRetryAfter is the Retry-After value Gate sends while loading.
const DefaultRetryAfter = time.Second

// Gate returns middleware that answers 503 with a Retry-After header while src
// is loading and otherwise attaches the snapshot to the request context.
func Gate(src Source) func(http.Handler) http.Handler {
	return GateWithRetryAfter(src, DefaultRetryAfter)
}

// GateWithRetryAfter is Gate with a custom Retry-After hint, rounded up to
// whole seconds.
func GateWithRetryAfter(src Source, retryAfter time.Duration) func(http.Handler) http.Handler {
	seconds := int((retryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	header := strconv.Itoa(seconds)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if src == nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			snap := src.Snapshot()
			if snap.Loading {
				w.Header().Set("Retry-After", header)
				http.Error(w, "session loading", http.StatusServiceUnavailable)
				return
			}

			ctx := authstate.WithSnapshot(r.Context(), snap)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SnapshotFromContext returns the snapshot Gate attached to the request.
func SnapshotFromContext(r *http.Request) (authstate.Snapshot, bool) {
	return authstate.SnapshotFromContext(r.Context())
}

func snapshotFor(src Source, r *http.Request) (authstate.Snapshot, bool) {
	if snap, ok := authstate.SnapshotFromContext(r.Context()); ok {
		return snap, true
	}
	if src == nil {
		return authstate.Snapshot{}, false
	}
	snap := src.Snapshot()
	return snap, !snap.Loading
}
