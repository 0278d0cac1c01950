package authclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/vhorizon/authstate/session"
	"github.com/vhorizon/authstate/tokenstore"
)

// tokenResponse is the body of every /token grant.
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *session.User `json:"user"`
}

func (c *Client) toSession(tr *tokenResponse) (*session.Session, error) {
	s := &session.Session{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		ExpiresIn:    tr.ExpiresIn,
		ExpiresAt:    tr.ExpiresAt,
		RefreshToken: tr.RefreshToken,
		User:         tr.User,
	}
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = c.clock.Now().Unix() + s.ExpiresIn
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("authclient: server returned unusable session: %w", err)
	}
	return s, nil
}

// GetSession returns the signed-in session, or nil when nobody is signed in.
//
// The persisted session is refreshed when it is within RefreshMargin of expiry, then
// confirmed with GET /user. A session the server rejects is removed from the store and
// nil is returned. Network and server failures are returned as errors.
func (c *Client) GetSession(ctx context.Context) (*session.Session, error) {
	s, err := c.loadStored(ctx)
	if err != nil || s == nil {
		return nil, err
	}

	if s.ExpiresWithin(c.clock.Now(), c.cfg.RefreshMargin) {
		refreshed, err := c.refresh(ctx, s.RefreshToken)
		if IsUnauthorized(err) || isBadRefresh(err) {
			c.log.Info("stored session rejected on refresh", zap.String("user_id", s.UserID()))
			c.dropStored(ctx)
			c.emit(session.EventSignedOut, nil)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		s = refreshed
		c.emit(session.EventTokenRefreshed, s)
	}

	user, err := c.GetUser(ctx, s.AccessToken)
	if IsUnauthorized(err) {
		c.log.Info("stored session rejected by server", zap.String("user_id", s.UserID()))
		c.dropStored(ctx)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.User = user
	return s, nil
}

// StoredSession returns the persisted session without contacting the server.
func (c *Client) StoredSession(ctx context.Context) (*session.Session, error) {
	return c.loadStored(ctx)
}

func (c *Client) loadStored(ctx context.Context) (*session.Session, error) {
	blob, err := c.store.Load(ctx, c.cfg.StorageKey)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("authclient: load session: %w", err)
	}
	s, err := session.Decode(blob)
	if err != nil {
		c.log.Warn("discarding malformed stored session", zap.String("storage_key", c.cfg.StorageKey), zap.Error(err))
		c.dropStored(ctx)
		return nil, nil
	}
	return s, nil
}

func (c *Client) saveStored(ctx context.Context, s *session.Session) error {
	blob, err := session.Encode(s)
	if err != nil {
		return err
	}
	if err := c.store.Save(ctx, c.cfg.StorageKey, blob); err != nil {
		return fmt.Errorf("authclient: save session: %w", err)
	}
	return nil
}

func (c *Client) dropStored(ctx context.Context) {
	if err := c.store.Delete(context.WithoutCancel(ctx), c.cfg.StorageKey); err != nil {
		c.log.Warn("failed to remove stored session", zap.String("storage_key", c.cfg.StorageKey), zap.Error(err))
	}
}

func isBadRefresh(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest
}

// RefreshSession exchanges the stored refresh token for a new session and persists it.
func (c *Client) RefreshSession(ctx context.Context) (*session.Session, error) {
	s, err := c.loadStored(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNoSession
	}
	refreshed, err := c.refresh(ctx, s.RefreshToken)
	if err != nil {
		return nil, err
	}
	c.emit(session.EventTokenRefreshed, refreshed)
	return refreshed, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*session.Session, error) {
	if refreshToken == "" {
		return nil, &APIError{Status: http.StatusBadRequest, Code: "refresh_token_not_found", Message: "no refresh token"}
	}
	var tr tokenResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   map[string]string{"refresh_token": refreshToken},
	}, &tr)
	if err != nil {
		return nil, err
	}
	s, err := c.toSession(&tr)
	if err != nil {
		return nil, err
	}
	// A caller that gave up must not repopulate a slot it may since have cleared.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.saveStored(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetUser returns the user the server associates with accessToken.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*session.User, error) {
	if accessToken == "" {
		return nil, ErrNoSession
	}
	var u session.User
	if err := c.do(ctx, request{method: http.MethodGet, path: "/auth/v1/user", bearer: accessToken}, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, errors.New("authclient: server returned user without id")
	}
	return &u, nil
}
