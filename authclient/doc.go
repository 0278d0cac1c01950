// Package authclient is a client for a GoTrue-compatible auth backend (the hosted
// backend's /auth/v1 API). It keeps the signed-in session in a [tokenstore.Store] under
// the project's storage key and pushes auth state changes to subscribers.
//
// # Sessions
//
// [Client.GetSession] loads the persisted session, refreshes it when it is close to
// expiry, and confirms it with the server. A session the server rejects is removed from
// the store and reported as absent, not as an error, so the caller does not fall back
// to it.
//
// # Events
//
// Subscribers registered with [Client.OnAuthStateChange] receive events in the order the
// client produced them, from a single delivery goroutine. A slow subscriber delays later
// events but never reorders them.
//
// # Retries and throttling
//
// Network failures, 5xx and 429 responses are retried with a bounded backoff; other 4xx
// responses are returned at once as [*APIError]. Password sign-in attempts are throttled
// per normalized email address.
package authclient
