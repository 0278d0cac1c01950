package authclient

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/vhorizon/authstate/internal/retry"
	"github.com/vhorizon/authstate/session"
)

// Config configures a Client.
type Config struct {
	// ProjectURL is the backend base URL, e.g. https://abcd.supabase.co.
	ProjectURL string
	// APIKey is the project's public (anon) key.
	APIKey string
	// StorageKey overrides the key derived from ProjectURL.
	StorageKey string
	// RefreshMargin refreshes a session this long before it expires.
	RefreshMargin time.Duration
	// HTTPTimeout bounds each HTTP attempt.
	HTTPTimeout time.Duration
	Retry       retry.Policy

	// SignInAttempts sign-in attempts per email are allowed every SignInWindow.
	SignInAttempts int
	SignInWindow   time.Duration
}

// DefaultConfig returns the defaults for everything except ProjectURL and APIKey.
func DefaultConfig() Config {
	return Config{
		RefreshMargin: 30 * time.Second,
		HTTPTimeout:   10 * time.Second,
		Retry: retry.Policy{
			MaxAttempts:      3,
			InitialBackoff:   200 * time.Millisecond,
			MaxBackoff:       2 * time.Second,
			RateLimitBackoff: 2 * time.Second,
		},
		SignInAttempts: 5,
		SignInWindow:   15 * time.Minute,
	}
}

func (c *Config) normalize() error {
	def := DefaultConfig()
	c.ProjectURL = strings.TrimRight(strings.TrimSpace(c.ProjectURL), "/")
	u, err := url.Parse(c.ProjectURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("authclient: ProjectURL must be an absolute URL")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("authclient: APIKey is required")
	}
	if c.StorageKey == "" {
		key, err := session.StorageKey(c.ProjectURL)
		if err != nil {
			return err
		}
		c.StorageKey = key
	}
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = def.RefreshMargin
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = def.HTTPTimeout
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = def.Retry
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if c.SignInAttempts <= 0 {
		c.SignInAttempts = def.SignInAttempts
	}
	if c.SignInWindow <= 0 {
		c.SignInWindow = def.SignInWindow
	}
	return nil
}

// Option customizes a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}
