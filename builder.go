package authstate

import (
	"context"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/vhorizon/authstate/session"
)

// Builder assembles a Resolver. A Builder is single use.
type Builder struct {
	config Config

	auth   AuthClient
	roles  RoleStore
	tokens TokenStore
	cache  QueryCache

	logger    *zap.Logger
	auditSink AuditSink
	clock     clockwork.Clock

	built bool
}

// New returns a Builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithAuthClient(c AuthClient) *Builder {
	b.auth = c
	return b
}

func (b *Builder) WithRoleStore(s RoleStore) *Builder {
	b.roles = s
	return b
}

func (b *Builder) WithTokenStore(s TokenStore) *Builder {
	b.tokens = s
	return b
}

func (b *Builder) WithQueryCache(c QueryCache) *Builder {
	b.cache = c
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets the sink audit events are delivered to when Config.Audit is
// enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces the wall clock, for tests.
func (b *Builder) WithClock(c clockwork.Clock) *Builder {
	b.clock = c
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and returns an uninitialized Resolver.
func (b *Builder) Build() (*Resolver, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}
	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.auth == nil {
		return nil, ErrMissingAuthClient
	}
	if b.roles == nil {
		return nil, ErrMissingRoleStore
	}
	if b.tokens == nil {
		return nil, ErrMissingTokenStore
	}

	key, err := resolveStorageKey(cfg.Storage, b.auth)
	if err != nil {
		return nil, err
	}

	r := &Resolver{
		cfg:        cfg,
		auth:       b.auth,
		roles:      b.roles,
		tokens:     b.tokens,
		cache:      b.cache,
		log:        b.logger,
		clock:      b.clock,
		storageKey: key,
		subs:       make(map[uint64]func(Snapshot)),
		ready:      make(chan struct{}),
		snap:       Snapshot{State: StateUninitialized, Loading: true},
	}
	if r.cache == nil {
		r.cache = noopQueryCache{}
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	r.log = r.log.Named("resolver")
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	r.metrics = NewMetrics(cfg.Metrics)
	r.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	r.lifetime, r.stop = context.WithCancel(context.Background())

	b.built = true
	return r, nil
}

func resolveStorageKey(cfg StorageConfig, auth AuthClient) (string, error) {
	if cfg.Key != "" {
		return cfg.Key, nil
	}
	if cfg.ProjectURL != "" {
		return session.StorageKey(cfg.ProjectURL)
	}
	if keyed, ok := auth.(interface{ StorageKey() string }); ok && keyed.StorageKey() != "" {
		return keyed.StorageKey(), nil
	}
	return "", ErrMissingStorageKey
}
