package session

import (
	"strings"
	"time"
)

// User is the identity carried inside a [Session].
//
// Role is the backend's role claim (usually "authenticated") and is unrelated to the
// application's admin flag, which lives in the role-assignment store.
type User struct {
	ID               string         `json:"id"`
	Aud              string         `json:"aud,omitempty"`
	Role             string         `json:"role,omitempty"`
	Email            string         `json:"email,omitempty"`
	Phone            string         `json:"phone,omitempty"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	LastSignInAt     *time.Time     `json:"last_sign_in_at,omitempty"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	CreatedAt        *time.Time     `json:"created_at,omitempty"`
	UpdatedAt        *time.Time     `json:"updated_at,omitempty"`
}

// DisplayName returns user_metadata.full_name, then user_metadata.name, then the local
// part of the email address.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	for _, k := range []string{"full_name", "name"} {
		if v, ok := u.UserMetadata[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if at := strings.IndexByte(u.Email, '@'); at > 0 {
		return u.Email[:at]
	}
	return u.Email
}

// Provider returns app_metadata.provider ("email", "google", ...), or "" when absent.
func (u *User) Provider() string {
	if u == nil {
		return ""
	}
	p, _ := u.AppMetadata["provider"].(string)
	return p
}

// Clone returns a copy that shares no maps with u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.AppMetadata = cloneMap(u.AppMetadata)
	out.UserMetadata = cloneMap(u.UserMetadata)
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Session is an authenticated session as issued by the auth backend.
//
// ExpiresAt is in unix seconds; zero means unknown.
type Session struct {
	AccessToken   string `json:"access_token"`
	TokenType     string `json:"token_type,omitempty"`
	ExpiresIn     int64  `json:"expires_in,omitempty"`
	ExpiresAt     int64  `json:"expires_at,omitempty"`
	RefreshToken  string `json:"refresh_token,omitempty"`
	ProviderToken string `json:"provider_token,omitempty"`
	User          *User  `json:"user"`
}

// Validate reports whether s is structurally usable: it must carry an access token and
// a user with a non-empty id. The returned error wraps [ErrMalformed].
func (s *Session) Validate() error {
	switch {
	case s == nil:
		return malformed("nil session")
	case strings.TrimSpace(s.AccessToken) == "":
		return malformed("missing access_token")
	case s.User == nil:
		return malformed("missing user")
	case strings.TrimSpace(s.User.ID) == "":
		return malformed("missing user.id")
	}
	return nil
}

// UserID returns the user's id or "" when s or its user is nil.
func (s *Session) UserID() string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID
}

// Expired reports whether the session's expiry is known and not after now.
func (s *Session) Expired(now time.Time) bool {
	return s != nil && s.ExpiresAt > 0 && now.Unix() >= s.ExpiresAt
}

// ExpiresWithin reports whether the session expires before now+d. Unknown expiry is
// never within any window.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	return s != nil && s.ExpiresAt > 0 && now.Add(d).Unix() >= s.ExpiresAt
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.User = s.User.Clone()
	return &out
}
