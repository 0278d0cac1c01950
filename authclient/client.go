package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/vhorizon/authstate/internal/retry"
	"github.com/vhorizon/authstate/tokenstore"
)

const clientInfo = "authstate-go/1"

// Client talks to the auth backend. It is safe for concurrent use.
type Client struct {
	cfg      Config
	store    tokenstore.Store
	http     *http.Client
	log      *zap.Logger
	clock    clockwork.Clock
	throttle *throttle
	events   *dispatcher
}

// New returns a Client persisting its session in store.
func New(cfg Config, store tokenstore.Store, opts ...Option) (*Client, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("authclient: token store is required")
	}
	c := &Client{
		cfg:   cfg,
		store: store,
		log:   zap.NewNop(),
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	c.log = c.log.Named("authclient")
	c.throttle = newThrottle(cfg.SignInAttempts, cfg.SignInWindow, c.clock)
	c.events = newDispatcher(c.log)
	return c, nil
}

// StorageKey is the token-store key the session is persisted under.
func (c *Client) StorageKey() string { return c.cfg.StorageKey }

// Close stops event delivery. Events already queued are delivered first.
func (c *Client) Close() {
	c.events.close()
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	bearer string
}

// do sends req with retries and decodes a 2xx JSON body into out (if non-nil).
func (c *Client) do(ctx context.Context, req request, out any) error {
	return retry.DoVoid(ctx, c.policy(req), classify, func(ctx context.Context) error {
		return c.once(ctx, req, out)
	})
}

func (c *Client) policy(req request) retry.Policy {
	p := c.cfg.Retry
	if p.Clock == nil {
		p.Clock = c.clock
	}
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		c.log.Warn("auth request failed, retrying",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
	}
	return p
}

func classify(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || retry.IsPermanent(err) {
		return retry.Stop
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusTooManyRequests:
			return retry.After
		case apiErr.Transient():
			return retry.Retry
		default:
			return retry.Stop
		}
	}
	return retry.Retry
}

func (c *Client) once(ctx context.Context, req request, out any) error {
	endpoint := c.cfg.ProjectURL + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return &retry.PermanentError{Err: fmt.Errorf("authclient: encode body: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return &retry.PermanentError{Err: fmt.Errorf("authclient: build request: %w", err)}
	}
	bearer := req.bearer
	if bearer == "" {
		bearer = c.cfg.APIKey
	}
	httpReq.Header.Set("apikey", c.cfg.APIKey)
	httpReq.Header.Set("Authorization", "Bearer "+bearer)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Client-Info", clientInfo)
	httpReq.Header.Set("X-Client-Request-Id", uuid.NewString())
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("authclient: %s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("authclient: read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return decodeAPIError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &retry.PermanentError{Err: fmt.Errorf("authclient: decode response: %w", err)}
	}
	return nil
}

// decodeAPIError understands the error shapes GoTrue has used across versions.
func decodeAPIError(status int, body []byte) *APIError {
	var payload struct {
		Code             any    `json:"code"`
		ErrorCode        string `json:"error_code"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
	}
	apiErr := &APIError{Status: status}
	if json.Unmarshal(body, &payload) != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return apiErr
	}

	apiErr.Code = payload.ErrorCode
	if apiErr.Code == "" {
		apiErr.Code = payload.Error
	}
	if code, ok := payload.Code.(string); ok && apiErr.Code == "" {
		apiErr.Code = code
	}
	for _, m := range []string{payload.Msg, payload.ErrorDescription, payload.Message, payload.Error} {
		if m != "" {
			apiErr.Message = m
			break
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
