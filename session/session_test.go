package session

import (
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, gjwt.RegisteredClaims{
		Subject:   "u-1",
		ExpiresAt: gjwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret-test-secret-test-secret"))
	require.NoError(t, err)
	return s
}

func TestDecodeFlatLayout(t *testing.T) {
	blob := []byte(`{"access_token":"at","refresh_token":"rt","expires_at":1700000000,"user":{"id":"u-1","email":"a@b.co"}}`)

	s, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, "at", s.AccessToken)
	assert.Equal(t, "rt", s.RefreshToken)
	assert.Equal(t, int64(1700000000), s.ExpiresAt)
	assert.Equal(t, "u-1", s.UserID())
}

func TestDecodeLegacyEnvelope(t *testing.T) {
	blob := []byte(`{"currentSession":{"access_token":"at","user":{"id":"u-2"}},"expiresAt":1700000123}`)

	s, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, "u-2", s.UserID())
	assert.Equal(t, int64(1700000123), s.ExpiresAt)
}

func TestDecodeDerivesExpiryFromAccessToken(t *testing.T) {
	exp := time.Unix(1900000000, 0)
	blob, err := Encode(&Session{AccessToken: signedToken(t, exp), User: &User{ID: "u-1"}})
	require.NoError(t, err)

	s, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, exp.Unix(), s.ExpiresAt)
}

func TestDecodeRejectsMalformedBlobs(t *testing.T) {
	cases := map[string]string{
		"empty":            ``,
		"whitespace":       "  \n",
		"not json":         `{not json`,
		"json null":        `null`,
		"array":            `[1,2]`,
		"no access token":  `{"user":{"id":"u"}}`,
		"blank token":      `{"access_token":"  ","user":{"id":"u"}}`,
		"no user":          `{"access_token":"at"}`,
		"empty user id":    `{"access_token":"at","user":{"id":""}}`,
		"legacy null":      `{"currentSession":null}`,
		"legacy no user":   `{"currentSession":{"access_token":"at"}}`,
		"wrong field type": `{"access_token":5,"user":{"id":"u"}}`,
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			s, err := Decode([]byte(blob))
			require.Error(t, err)
			assert.Nil(t, s)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestEncodeWritesFlatLayoutAndValidates(t *testing.T) {
	_, err := Encode(&Session{AccessToken: "at"})
	require.ErrorIs(t, err, ErrMalformed)

	in := &Session{AccessToken: "at", ExpiresAt: 42, User: &User{ID: "u", UserMetadata: map[string]any{"name": "Ana"}}}
	blob, err := Encode(in)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "currentSession")

	out, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, "Ana", out.User.DisplayName())
}

func TestExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	s := &Session{ExpiresAt: 1060}

	assert.False(t, s.Expired(now))
	assert.True(t, s.Expired(time.Unix(1060, 0)))
	assert.False(t, s.ExpiresWithin(now, 30*time.Second))
	assert.True(t, s.ExpiresWithin(now, 60*time.Second))

	unknown := &Session{}
	assert.False(t, unknown.Expired(now))
	assert.False(t, unknown.ExpiresWithin(now, time.Hour))

	var nilSession *Session
	assert.False(t, nilSession.Expired(now))
}

func TestDisplayName(t *testing.T) {
	cases := []struct {
		name string
		user *User
		want string
	}{
		{"full name wins", &User{Email: "x@y.z", UserMetadata: map[string]any{"full_name": " Maria Lopez ", "name": "M"}}, "Maria Lopez"},
		{"name fallback", &User{Email: "x@y.z", UserMetadata: map[string]any{"name": "Mario"}}, "Mario"},
		{"email local part", &User{Email: "agent.smith@realty.co"}, "agent.smith"},
		{"non-string metadata ignored", &User{Email: "a@b.c", UserMetadata: map[string]any{"full_name": 7}}, "a"},
		{"nil user", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.user.DisplayName())
		})
	}
}

func TestCloneDoesNotShareMetadata(t *testing.T) {
	s := &Session{AccessToken: "at", User: &User{ID: "u", UserMetadata: map[string]any{"name": "A"}}}
	c := s.Clone()
	c.User.UserMetadata["name"] = "B"
	c.User.ID = "other"

	assert.Equal(t, "A", s.User.UserMetadata["name"])
	assert.Equal(t, "u", s.User.ID)
	assert.Nil(t, (*Session)(nil).Clone())
}

func TestStorageKey(t *testing.T) {
	key, err := StorageKey("https://abcd1234.supabase.co")
	require.NoError(t, err)
	assert.Equal(t, "sb-abcd1234-auth-token", key)
	assert.Equal(t, "sb-abcd1234-auth-token-code-verifier", CodeVerifierKey(key))

	key, err = StorageKey("http://localhost:54321/")
	require.NoError(t, err)
	assert.Equal(t, "sb-localhost-auth-token", key)

	for _, bad := range []string{"", "not a url", "://x", "/relative/path"} {
		_, err := StorageKey(bad)
		assert.ErrorIs(t, err, ErrInvalidProjectURL, bad)
	}
}

func TestEventKnown(t *testing.T) {
	assert.True(t, EventSignedIn.Known())
	assert.True(t, EventPasswordRecovery.Known())
	assert.False(t, Event("MFA_CHALLENGE_VERIFIED").Known())
	assert.Equal(t, "SIGNED_OUT", EventSignedOut.String())
}
