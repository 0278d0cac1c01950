// Package middleware exposes HTTP middleware that gates requests on the
// resolver's identity snapshot.
//
// # Guards
//
//   - [Gate] holds requests back with 503 while the resolver is still loading
//     and attaches the snapshot to the request context afterwards.
//   - [RequireUser] rejects requests without a signed-in user with 401.
//   - [RequireAdmin] rejects requests from non-admin users with 403.
//
// RequireUser and RequireAdmin read the snapshot Gate attached and fall back to
// reading the source directly when used on their own.
//
// # What this package must NOT do
//
//   - Resolve identity or roles itself (delegates to the resolver).
//   - Parse or verify tokens.
//   - Block a request waiting for the gate to open.
package middleware
