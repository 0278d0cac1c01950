package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenSource returns the access token to authorize a request with. An empty token
// falls back to the project API key.
type TokenSource func(ctx context.Context) (string, error)

// RESTStore queries user_roles through the backend's PostgREST endpoint, so row-level
// security applies with the caller's identity.
type RESTStore struct {
	baseURL string
	apiKey  string
	token   TokenSource
	http    *http.Client
}

// RESTOption configures a RESTStore.
type RESTOption func(*RESTStore)

func WithHTTPClient(c *http.Client) RESTOption {
	return func(s *RESTStore) { s.http = c }
}

func WithTokenSource(ts TokenSource) RESTOption {
	return func(s *RESTStore) { s.token = ts }
}

func NewRESTStore(projectURL, apiKey string, opts ...RESTOption) *RESTStore {
	s := &RESTStore{
		baseURL: strings.TrimRight(projectURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RESTStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if err := checkArgs(userID, role); err != nil {
		return false, err
	}

	q := url.Values{}
	q.Set("select", "role")
	q.Set("user_id", "eq."+userID)
	q.Set("role", "eq."+role)
	q.Set("limit", "1")
	endpoint := s.baseURL + "/rest/v1/user_roles?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("roles: build request: %w", err)
	}
	bearer := s.apiKey
	if s.token != nil {
		tok, err := s.token(ctx)
		if err != nil {
			return false, fmt.Errorf("roles: token: %w", err)
		}
		if tok != "" {
			bearer = tok
		}
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("roles: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return false, fmt.Errorf("roles: read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return false, fmt.Errorf("roles: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rows []struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return false, fmt.Errorf("roles: decode: %w", err)
	}
	return len(rows) > 0, nil
}
