package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vhorizon/authstate/jwt"
)

// ErrMalformed is returned for persisted blobs that cannot be adopted.
var ErrMalformed = errors.New("session: malformed blob")

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformed, reason)
}

// legacyEnvelope is the wrapper older clients persisted.
type legacyEnvelope struct {
	CurrentSession *Session `json:"currentSession"`
	ExpiresAt      int64    `json:"expiresAt"`
}

// Encode validates s and serializes it in the flat layout.
func Encode(s *Session) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

// Decode parses a persisted blob in either the flat or the legacy layout and validates it.
// A missing expires_at is recovered from the access token's exp claim when possible.
func Decode(data []byte) (*Session, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, malformed("empty blob")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var s *Session
	if _, ok := probe["currentSession"]; ok {
		var env legacyEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		s = env.CurrentSession
		if s != nil && s.ExpiresAt == 0 {
			s.ExpiresAt = env.ExpiresAt
		}
	} else {
		s = &Session{}
		if err := json.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.ExpiresAt == 0 {
		if claims, err := jwt.ParseUnverified(s.AccessToken); err == nil {
			s.ExpiresAt = claims.ExpiresAtUnix()
		}
	}
	return s, nil
}
