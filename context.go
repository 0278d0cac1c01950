package authstate

import "context"

type snapshotContextKey struct{}

// WithSnapshot attaches s to ctx so handlers downstream of the gate can read
// the identity the request was admitted with.
func WithSnapshot(ctx context.Context, s Snapshot) context.Context {
	return context.WithValue(ctx, snapshotContextKey{}, s)
}

// SnapshotFromContext returns the snapshot attached by WithSnapshot.
func SnapshotFromContext(ctx context.Context) (Snapshot, bool) {
	if ctx == nil {
		return Snapshot{}, false
	}

	s, ok := ctx.Value(snapshotContextKey{}).(Snapshot)
	return s, ok
}
