// Package authstate resolves who is signed in for a client of a hosted auth
// backend, and keeps that answer usable when the backend is slow or down.
//
// A [Resolver] is assembled with [New] and [Builder.Build], then started with
// [Resolver.Initialize]. Initialization races the auth client's session fetch
// against a timeout and falls back to the session blob persisted in the token
// store. The gate ([Snapshot.Loading]) opens exactly once and never closes
// again. Afterwards the resolver follows auth events, resolves the admin flag
// through the role store and signs out with unconditional local cleanup.
//
// Methods on Resolver are safe to call from multiple goroutines.
//
// # Architecture boundaries
//
// authstate owns the state machine and nothing else. Talking to the backend
// lives in authclient, persisted blobs in session and tokenstore, role lookups
// in roles and identity-scoped data in querycache. The resolver sees all of
// them through the narrow interfaces [AuthClient], [RoleStore], [TokenStore]
// and [QueryCache].
//
// # What this package must NOT do
//
//   - Let a stale asynchronous result override a newer transition.
//   - Fail Initialize, or leave Loading true after it returns.
//   - Report a user as admin when the role lookup failed.
//   - Import any sub-package that re-imports authstate (no import cycles).
package authstate
