package jwt

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT is returned when a token does not have the three-segment JWT shape.
var ErrNotJWT = errors.New("jwt: token is not a jwt")

// Claims are the claims the auth backend puts in an access token.
type Claims struct {
	Email        string         `json:"email,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	Role         string         `json:"role,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	AAL          string         `json:"aal,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// ExpiresAtUnix returns the exp claim in unix seconds, or 0 when absent.
func (c *Claims) ExpiresAtUnix() int64 {
	if c == nil || c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Unix()
}

// ParseUnverified decodes token without checking its signature or time claims.
func ParseUnverified(token string) (*Claims, error) {
	if strings.Count(token, ".") != 2 {
		return nil, ErrNotJWT
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
