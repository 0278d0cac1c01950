package authclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrInvalidEmail is returned when an email address does not parse.
	ErrInvalidEmail = errors.New("authclient: invalid email address")
	// ErrMissingVerifier is returned when a code exchange finds no stored PKCE verifier.
	ErrMissingVerifier = errors.New("authclient: no pkce code verifier stored")
	// ErrNoCode is returned when a callback carries neither an error nor a code.
	ErrNoCode = errors.New("authclient: callback has no authorization code")
	// ErrNoSession is returned by operations that need a signed-in session.
	ErrNoSession = errors.New("authclient: no session")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("authclient: client closed")
)

// APIError is a non-2xx response from the auth backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("auth api: %d: %s", e.Status, e.Message)
}

// Transient reports whether retrying the request may succeed.
func (e *APIError) Transient() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Unauthorized reports whether the server rejected the credentials presented.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// IsUnauthorized reports whether err is an [*APIError] rejecting the credentials.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Unauthorized()
}

// ThrottledError is returned when too many sign-in attempts were made for an email.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("authclient: too many sign-in attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

// ErrThrottled matches any *ThrottledError with errors.Is.
var ErrThrottled = errors.New("authclient: throttled")

func (e *ThrottledError) Is(target error) bool { return target == ErrThrottled }

// CallbackError is an error reported by the provider on the OAuth redirect.
type CallbackError struct {
	Code        string
	Description string
}

func (e *CallbackError) Error() string {
	if e.Description != "" {
		return "auth callback: " + e.Description
	}
	return "auth callback: " + e.Code
}
