package devstub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vhorizon/authstate"
	"github.com/vhorizon/authstate/authclient"
	"github.com/vhorizon/authstate/jwt"
	"github.com/vhorizon/authstate/roles"
	"github.com/vhorizon/authstate/tokenstore"
)

const testAPIKey = "anon-key"

func newStub(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(Config{APIKey: testAPIKey, JWTSecret: []byte("devstub-test-secret-0123456789")}, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func newClient(t *testing.T, ts *httptest.Server, store tokenstore.Store) *authclient.Client {
	t.Helper()
	cfg := authclient.DefaultConfig()
	cfg.ProjectURL = ts.URL
	cfg.APIKey = testAPIKey
	cfg.Retry.MaxAttempts = 1
	c, err := authclient.New(cfg, store)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

// signIn persists a session through a client that is closed before returning,
// so its SIGNED_IN event is never seen by a later subscriber.
func signIn(t *testing.T, ts *httptest.Server, store tokenstore.Store, email, password string) {
	t.Helper()
	c := newClient(t, ts, store)
	_, err := c.SignInWithPassword(context.Background(), email, password)
	require.NoError(t, err)
	c.Close()
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{JWTSecret: []byte("0123456789abcdef")}, nil)
	assert.Error(t, err)
	_, err = New(Config{APIKey: "k", JWTSecret: []byte("short")}, nil)
	assert.Error(t, err)
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := hashPassword("correct-horse")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$v=19$")

	ok, err := verifyPassword("correct-horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = verifyPassword("x", "$bcrypt$whatever")
	assert.ErrorIs(t, err, errBadHash)
}

func TestAddUserRejectsDuplicate(t *testing.T) {
	s, _ := newStub(t)
	_, err := s.AddUser("agent@realty.co", "pw-123456", nil)
	require.NoError(t, err)
	_, err = s.AddUser(" Agent@Realty.co ", "other", nil)
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestRejectsMissingAPIKey(t *testing.T) {
	_, ts := newStub(t)
	resp, err := http.Get(ts.URL + "/auth/v1/user")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestClientSignInAndGetSession(t *testing.T) {
	s, ts := newStub(t)
	u, err := s.AddUser("agent@realty.co", "correct-horse", map[string]any{"full_name": "Ada Agent"})
	require.NoError(t, err)

	c := newClient(t, ts, tokenstore.NewMemoryStore())
	ctx := context.Background()

	sess, err := c.SignInWithPassword(ctx, "agent@realty.co", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, sess.UserID())

	claims, err := jwt.ParseUnverified(sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.Subject)
	assert.Equal(t, "agent@realty.co", claims.Email)

	got, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ada Agent", got.User.DisplayName())

	_, err = c.SignInWithPassword(ctx, "agent@realty.co", "wrong-horse")
	var apiErr *authclient.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid_credentials", apiErr.Code)
}

func TestClientRefreshRotatesToken(t *testing.T) {
	s, ts := newStub(t)
	_, err := s.AddUser("agent@realty.co", "correct-horse", nil)
	require.NoError(t, err)
	c := newClient(t, ts, tokenstore.NewMemoryStore())
	ctx := context.Background()

	first, err := c.SignInWithPassword(ctx, "agent@realty.co", "correct-horse")
	require.NoError(t, err)
	second, err := c.RefreshSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	s.ExpireRefreshTokens()
	_, err = c.RefreshSession(ctx)
	var apiErr *authclient.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestClientSignUp(t *testing.T) {
	_, ts := newStub(t)
	c := newClient(t, ts, tokenstore.NewMemoryStore())

	res, err := c.SignUp(context.Background(), "new@realty.co", "secret-pw", map[string]any{"name": "Newbie"})
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.Equal(t, "new@realty.co", res.User.Email)

	_, err = c.SignUp(context.Background(), "new@realty.co", "secret-pw", nil)
	var apiErr *authclient.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "user_already_exists", apiErr.Code)
}

func TestRESTRoleStore(t *testing.T) {
	s, ts := newStub(t)
	store := roles.NewRESTStore(ts.URL, testAPIKey)
	ctx := context.Background()

	ok, err := store.HasRole(ctx, "user-1", "admin")
	require.NoError(t, err)
	assert.False(t, ok)

	s.Grant("user-1", "admin")
	ok, err = store.HasRole(ctx, "user-1", "admin")
	require.NoError(t, err)
	assert.True(t, ok)

	s.Revoke("user-1", "admin")
	ok, err = store.HasRole(ctx, "user-1", "admin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolverAgainstStub(t *testing.T) {
	s, ts := newStub(t)
	u, err := s.AddUser("admin@realty.co", "correct-horse", nil)
	require.NoError(t, err)
	s.Grant(u.ID, "admin")

	tokens := tokenstore.NewMemoryStore()
	ctx := context.Background()
	signIn(t, ts, tokens, "admin@realty.co", "correct-horse")
	c := newClient(t, ts, tokens)

	cfg := authstate.DefaultConfig()
	cfg.Init.LateRefine = false
	r, err := authstate.New().
		WithConfig(cfg).
		WithAuthClient(c).
		WithRoleStore(roles.NewRESTStore(ts.URL, testAPIKey)).
		WithTokenStore(tokens).
		Build()
	require.NoError(t, err)
	t.Cleanup(r.Close)

	res := r.Initialize(ctx)
	assert.Equal(t, authstate.OutcomeConfirmed, res.Outcome)
	assert.Equal(t, authstate.SourceServer, res.Source)
	assert.True(t, res.Snapshot.IsAdmin)
	assert.Equal(t, u.ID, res.Snapshot.UserID())

	require.NoError(t, r.SignOut(ctx))
	snap := r.Snapshot()
	assert.Nil(t, snap.User)
	assert.False(t, snap.IsAdmin)

	_, err = tokens.Load(ctx, r.StorageKey())
	assert.ErrorIs(t, err, tokenstore.ErrNotFound)
}

func TestResolverFallsBackWhenStubIsDown(t *testing.T) {
	s, ts := newStub(t)
	_, err := s.AddUser("agent@realty.co", "correct-horse", nil)
	require.NoError(t, err)

	tokens := tokenstore.NewMemoryStore()
	ctx := context.Background()
	signIn(t, ts, tokens, "agent@realty.co", "correct-horse")
	c := newClient(t, ts, tokens)
	ts.Close()

	cfg := authstate.DefaultConfig()
	cfg.Init.LateRefine = false
	cfg.Init.Timeout = 2 * time.Second
	cfg.Init.Retry = authstate.RetryConfig{MaxAttempts: 1}
	r, err := authstate.New().
		WithConfig(cfg).
		WithAuthClient(c).
		WithRoleStore(roles.NewMemoryStore()).
		WithTokenStore(tokens).
		Build()
	require.NoError(t, err)
	t.Cleanup(r.Close)

	res := r.Initialize(ctx)
	assert.Equal(t, authstate.OutcomeDegraded, res.Outcome)
	assert.Equal(t, authstate.SourceLocalCache, res.Source)
	assert.Error(t, res.PrimaryErr)
	assert.False(t, res.Snapshot.IsAdmin)
	assert.False(t, res.Snapshot.Loading)
}
