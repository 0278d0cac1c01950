// Package devstub is an in-process stand-in for the hosted auth backend, used by
// `authstate serve --dev` and by tests that need a real HTTP peer.
//
// It implements the subset of the auth and REST endpoints the authclient and
// roles packages call: password and refresh-token grants, user lookup, sign-up,
// logout and the user_roles table. Access tokens are real HS256 JWTs minted and
// verified with the jwt package; passwords are stored as argon2id PHC strings.
//
// # What this package must NOT do
//
//   - Persist anything. State lives for the lifetime of the Server.
//   - Be exposed beyond a developer machine.
package devstub
