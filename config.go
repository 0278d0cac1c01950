package authstate

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vhorizon/authstate/internal/retry"
)

// Config controls the resolver's time budgets and its ambient subsystems.
//
// Config values are copied by [Builder.WithConfig]; changing a Config after Build has no
// effect on the resolver.
type Config struct {
	Init    InitConfig
	Role    RoleConfig
	SignOut SignOutConfig
	Storage StorageConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
INIT CONFIG
====================================
*/

// InitConfig bounds initialization.
type InitConfig struct {
	// Timeout is how long the primary session fetch may take before the resolver
	// switches to the local token store.
	Timeout time.Duration
	// FallbackTimeout bounds the local token store read.
	FallbackTimeout time.Duration
	// DeferRoleOnFallback resolves the admin flag in the background after a session
	// was adopted from the local token store. When false the flag stays false until
	// the next auth event or a late refinement.
	DeferRoleOnFallback bool
	// LateRefine lets a primary fetch that lost the race still update a degraded or
	// absent result when it completes within LateRefineWindow.
	LateRefine       bool
	LateRefineWindow time.Duration
	// Retry is applied to the primary fetch inside Timeout.
	Retry RetryConfig
}

// RetryConfig is a bounded exponential backoff.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (r RetryConfig) policy(clock clockwork.Clock) retry.Policy {
	return retry.Policy{
		MaxAttempts:    r.MaxAttempts,
		InitialBackoff: r.InitialBackoff,
		MaxBackoff:     r.MaxBackoff,
		Clock:          clock,
	}
}

/*
====================================
ROLE CONFIG
====================================
*/

// RoleConfig controls admin-flag resolution.
type RoleConfig struct {
	// AdminRole is the user_roles.role value that grants the admin flag.
	AdminRole string
	// Timeout bounds one role lookup. A lookup that times out resolves to false.
	Timeout time.Duration
}

/*
====================================
SIGN-OUT CONFIG
====================================
*/

// SignOutConfig bounds the remote half of sign-out.
type SignOutConfig struct {
	Timeout time.Duration
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig locates the persisted session blob.
//
// Key wins over ProjectURL. When both are empty the key is taken from the auth client
// if it exposes one.
type StorageConfig struct {
	Key        string
	ProjectURL string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the buffered audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults: a 5s primary budget, 3s sign-out
// budget, and late refinement on.
func DefaultConfig() Config {
	return Config{
		Init: InitConfig{
			Timeout:          5 * time.Second,
			FallbackTimeout:  time.Second,
			LateRefine:       true,
			LateRefineWindow: 30 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: 250 * time.Millisecond,
				MaxBackoff:     time.Second,
			},
		},
		Role: RoleConfig{
			AdminRole: "admin",
			Timeout:   3 * time.Second,
		},
		SignOut: SignOutConfig{
			Timeout: 3 * time.Second,
		},
		Audit: AuditConfig{
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Init.Timeout <= 0 {
		return errors.New("Init Timeout must be > 0")
	}
	if c.Init.FallbackTimeout <= 0 {
		return errors.New("Init FallbackTimeout must be > 0")
	}
	if c.Init.LateRefine && c.Init.LateRefineWindow <= 0 {
		return errors.New("Init LateRefineWindow must be > 0 when LateRefine is enabled")
	}
	if err := c.Init.Retry.policy(nil).Validate(); err != nil {
		return errors.New("Init Retry: " + err.Error())
	}
	if c.Role.AdminRole == "" {
		return errors.New("Role AdminRole must be set")
	}
	if c.Role.Timeout <= 0 {
		return errors.New("Role Timeout must be > 0")
	}
	if c.SignOut.Timeout <= 0 {
		return errors.New("SignOut Timeout must be > 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}
	return nil
}

// MaxInitDuration is the longest Initialize can keep the gate closed.
func (c *Config) MaxInitDuration() time.Duration {
	tail := c.Role.Timeout
	if c.Init.FallbackTimeout > tail {
		tail = c.Init.FallbackTimeout
	}
	return c.Init.Timeout + tail
}
