// Package tokenstore provides the local persistent key/value store the auth client keeps
// its session blob and PKCE verifier in.
//
// The resolver reads this store directly when the server cannot be reached, so every
// implementation must answer Load quickly and report a missing key as [ErrNotFound]
// rather than as a generic failure.
package tokenstore
