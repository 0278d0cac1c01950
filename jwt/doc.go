// Package jwt reads and verifies the access tokens issued by the auth backend.
//
// [ParseUnverified] recovers expiry and subject from a token without checking its
// signature; the resolver uses it only to date a persisted session, never to trust one.
// [Manager] verifies tokens against the project's signing keys and issues tokens for the
// local development backend.
package jwt
