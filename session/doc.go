// Package session defines the signed-in identity model shared by the resolver and its
// collaborators, and the JSON codec for the blob persisted in the local token store.
//
// # Persisted layout
//
// Blobs are written in the flat layout (access_token, refresh_token, expires_at, user, ...).
// Decode also accepts the legacy wrapper {"currentSession": {...}, "expiresAt": n} written by
// older clients. A blob is structurally valid only when it carries an access token and a user
// with a non-empty id; everything else decodes to [ErrMalformed].
//
// # Storage keys
//
// [StorageKey] derives the per-project key from the backend URL, the same way the hosted
// backend's browser client names it, so a blob written by one client is found by another.
//
// # What this package must NOT do
//
//   - Talk to the network or to a concrete store.
//   - Decide whether a structurally valid session is still accepted by the server.
package session
