package authclient

import (
	"net/url"
	"strings"
)

// ParseCallback inspects an OAuth redirect URL. Provider errors may arrive in the
// fragment (implicit flow) or the query (PKCE flow) and are returned as
// [*CallbackError]. Otherwise the authorization code from the query is returned.
func ParseCallback(u *url.URL) (string, error) {
	if u == nil {
		return "", ErrNoCode
	}
	fragment, _ := url.ParseQuery(u.Fragment)
	query := u.Query()

	code := firstNonEmpty(fragment.Get("error"), query.Get("error"))
	desc := firstNonEmpty(fragment.Get("error_description"), query.Get("error_description"))
	if code != "" || desc != "" {
		return "", &CallbackError{Code: code, Description: desc}
	}

	if authCode := strings.TrimSpace(query.Get("code")); authCode != "" {
		return authCode, nil
	}
	return "", ErrNoCode
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
