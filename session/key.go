package session

import (
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidProjectURL is returned by StorageKey when no host can be extracted.
var ErrInvalidProjectURL = errors.New("session: invalid project url")

const codeVerifierSuffix = "-code-verifier"

// StorageKey derives the token-store key for a backend project URL:
// https://abcd.supabase.co becomes "sb-abcd-auth-token".
func StorageKey(projectURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(projectURL))
	if err != nil {
		return "", errors.Join(ErrInvalidProjectURL, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", ErrInvalidProjectURL
	}
	ref, _, _ := strings.Cut(host, ".")
	if ref == "" {
		return "", ErrInvalidProjectURL
	}
	return "sb-" + ref + "-auth-token", nil
}

// CodeVerifierKey is the key under which the PKCE verifier for storageKey is kept.
func CodeVerifierKey(storageKey string) string {
	return storageKey + codeVerifierSuffix
}
