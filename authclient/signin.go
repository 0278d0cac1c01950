package authclient

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/vhorizon/authstate/session"
	"github.com/vhorizon/authstate/tokenstore"
)

// SignInWithPassword signs in with email and password and persists the session.
//
// Attempts are throttled per normalized email; a throttled attempt returns a
// [*ThrottledError] without contacting the server. A successful sign-in resets the
// email's throttle.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, errors.New("authclient: password is required")
	}
	if ok, wait := c.throttle.allow(email); !ok {
		c.log.Warn("sign-in throttled", zap.Duration("retry_after", wait))
		return nil, &ThrottledError{RetryAfter: wait}
	}

	var tr tokenResponse
	err = c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": email, "password": password},
	}, &tr)
	if err != nil {
		return nil, err
	}
	s, err := c.adopt(ctx, &tr)
	if err != nil {
		return nil, err
	}
	c.throttle.reset(email)
	return s, nil
}

// SignUpResult is the outcome of SignUp. Session is nil when the project requires
// email confirmation before the first sign-in.
type SignUpResult struct {
	User    *session.User
	Session *session.Session
}

// SignUp registers a new user. metadata becomes the user's user_metadata.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < 6 {
		return nil, errors.New("authclient: password must be at least 6 characters")
	}

	body := map[string]any{"email": email, "password": password}
	if len(metadata) > 0 {
		body["data"] = metadata
	}

	// The response is a session when auto-confirm is on, otherwise the bare user.
	var raw struct {
		tokenResponse
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := c.do(ctx, request{method: http.MethodPost, path: "/auth/v1/signup", body: body}, &raw); err != nil {
		return nil, err
	}
	if raw.AccessToken == "" {
		if raw.ID == "" {
			return nil, errors.New("authclient: signup response has neither session nor user")
		}
		return &SignUpResult{User: &session.User{ID: raw.ID, Email: raw.Email, UserMetadata: metadata}}, nil
	}
	s, err := c.adopt(ctx, &raw.tokenResponse)
	if err != nil {
		return nil, err
	}
	return &SignUpResult{User: s.User, Session: s}, nil
}

// adopt persists a freshly issued session and announces the sign-in.
func (c *Client) adopt(ctx context.Context, tr *tokenResponse) (*session.Session, error) {
	s, err := c.toSession(tr)
	if err != nil {
		return nil, err
	}
	if err := c.saveStored(ctx, s); err != nil {
		return nil, err
	}
	c.emit(session.EventSignedIn, s)
	return s, nil
}

// SignInWithOAuth starts a PKCE authorization-code flow with provider and returns the
// URL to send the browser to. The code verifier is persisted for ExchangeCodeForSession.
func (c *Client) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", errors.New("authclient: provider is required")
	}
	verifier, err := newCodeVerifier()
	if err != nil {
		return "", err
	}
	if err := c.store.Save(ctx, session.CodeVerifierKey(c.cfg.StorageKey), []byte(verifier)); err != nil {
		return "", fmt.Errorf("authclient: save code verifier: %w", err)
	}

	q := url.Values{}
	q.Set("provider", provider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	q.Set("code_challenge", codeChallenge(verifier))
	q.Set("code_challenge_method", "s256")
	return c.cfg.ProjectURL + "/auth/v1/authorize?" + q.Encode(), nil
}

// ExchangeCodeForSession completes a PKCE flow with the code from the redirect.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*session.Session, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrNoCode
	}
	verifierKey := session.CodeVerifierKey(c.cfg.StorageKey)
	verifier, err := c.store.Load(ctx, verifierKey)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return nil, ErrMissingVerifier
	}
	if err != nil {
		return nil, fmt.Errorf("authclient: load code verifier: %w", err)
	}

	var tr tokenResponse
	err = c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"pkce"}},
		body:   map[string]string{"auth_code": code, "code_verifier": string(verifier)},
	}, &tr)
	if err != nil {
		return nil, err
	}
	if err := c.store.Delete(ctx, verifierKey); err != nil {
		c.log.Warn("failed to remove code verifier", zap.Error(err))
	}
	return c.adopt(ctx, &tr)
}

// SignOut revokes the session on the server and always removes it locally. The
// returned error reports only the remote call; an already-invalid session is not an
// error.
func (c *Client) SignOut(ctx context.Context) error {
	s, loadErr := c.loadStored(ctx)

	var remoteErr error
	if s != nil {
		remoteErr = c.once(ctx, request{method: http.MethodPost, path: "/auth/v1/logout", bearer: s.AccessToken}, nil)
		var apiErr *APIError
		if errors.As(remoteErr, &apiErr) && (apiErr.Unauthorized() || apiErr.Status == http.StatusNotFound) {
			remoteErr = nil
		}
	}

	c.dropStored(ctx)
	if err := c.store.Delete(context.WithoutCancel(ctx), session.CodeVerifierKey(c.cfg.StorageKey)); err != nil {
		c.log.Warn("failed to remove code verifier", zap.Error(err))
	}
	c.emit(session.EventSignedOut, nil)

	if remoteErr != nil {
		return fmt.Errorf("authclient: remote sign-out: %w", remoteErr)
	}
	return loadErr
}

func newCodeVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("authclient: generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
