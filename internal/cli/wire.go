package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vhorizon/authstate"
	"github.com/vhorizon/authstate/authclient"
	"github.com/vhorizon/authstate/internal/devstub"
	"github.com/vhorizon/authstate/querycache"
	"github.com/vhorizon/authstate/roles"
	"github.com/vhorizon/authstate/tokenstore"
)

// roleWriter is implemented by role backends the CLI can mutate.
type roleWriter interface {
	Grant(ctx context.Context, userID, role string) error
	Revoke(ctx context.Context, userID, role string) (bool, error)
}

// memoryRoles adapts roles.MemoryStore to roleWriter.
type memoryRoles struct{ *roles.MemoryStore }

func (m memoryRoles) Grant(_ context.Context, userID, role string) error {
	m.MemoryStore.Grant(userID, role)
	return nil
}

func (m memoryRoles) Revoke(ctx context.Context, userID, role string) (bool, error) {
	had, err := m.MemoryStore.HasRole(ctx, userID, role)
	if err != nil {
		return false, err
	}
	m.MemoryStore.Revoke(userID, role)
	return had, nil
}

// stack is every collaborator the commands need, built from one Config.
type stack struct {
	cfg     Config
	log     *zap.Logger
	auth    *authclient.Client
	tokens  tokenstore.Store
	roles   authstate.RoleStore
	cache   *querycache.Cache
	dev     *devstub.Server
	closers []func()
}

func (s *stack) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// writer returns the role store's write half, or an error when the driver is
// read-only.
func (s *stack) writer() (roleWriter, error) {
	w, ok := s.roles.(roleWriter)
	if !ok {
		return nil, fmt.Errorf("roles driver %q is read-only", s.cfg.Roles.Driver)
	}
	return w, nil
}

func buildStack(ctx context.Context, cfg Config, log *zap.Logger, dev bool) (*stack, error) {
	s := &stack{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			s.close()
		}
	}()

	if dev {
		if err := s.startDev(); err != nil {
			return nil, err
		}
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	tokens, err := s.openTokens(ctx)
	if err != nil {
		return nil, err
	}
	s.tokens = tokens

	acfg := authclient.DefaultConfig()
	acfg.ProjectURL = s.cfg.ProjectURL
	acfg.APIKey = s.cfg.APIKey
	s.auth, err = authclient.New(acfg, s.tokens, authclient.WithLogger(log))
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.auth.Close)

	if s.roles, err = s.openRoles(ctx); err != nil {
		return nil, err
	}
	s.cache = querycache.New(querycache.Options{Logger: log})

	if dev {
		if err := s.seedDev(ctx); err != nil {
			return nil, err
		}
	}
	ok = true
	return s, nil
}

func (s *stack) openTokens(ctx context.Context) (tokenstore.Store, error) {
	switch s.cfg.Storage.Driver {
	case "memory":
		return tokenstore.NewMemoryStore(), nil
	case "redis":
		opts, err := redis.ParseURL(s.cfg.Storage.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		s.closers = append(s.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return tokenstore.NewRedisStore(client, s.cfg.Storage.Prefix, s.cfg.Storage.TTL), nil
	default:
		fs, err := tokenstore.NewFileStore(s.cfg.Storage.Dir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
}

func (s *stack) openRoles(ctx context.Context) (authstate.RoleStore, error) {
	switch s.cfg.Roles.Driver {
	case "memory":
		return memoryRoles{roles.NewMemoryStore()}, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, s.cfg.Roles.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return roles.NewPostgresStore(pool), nil
	default:
		// Row-level security sees the signed-in user when the access token is sent.
		return roles.NewRESTStore(s.cfg.ProjectURL, s.cfg.APIKey, roles.WithTokenSource(s.accessToken)), nil
	}
}

func (s *stack) accessToken(ctx context.Context) (string, error) {
	sess, err := s.auth.StoredSession(ctx)
	if err != nil || sess == nil {
		return "", err
	}
	return sess.AccessToken, nil
}

// startDev serves a devstub on a loopback port and points the config at it.
func (s *stack) startDev() error {
	stub, err := devstub.New(devstub.Config{
		APIKey:    "dev-anon-key",
		JWTSecret: []byte(s.cfg.Dev.JWTSecret),
	}, s.log)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen for dev backend: %w", err)
	}
	srv := &http.Server{Handler: stub.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("dev backend stopped", zap.Error(err))
		}
	}()
	s.closers = append(s.closers, func() { _ = srv.Close() })

	s.dev = stub
	s.cfg.ProjectURL = "http://" + ln.Addr().String()
	s.cfg.APIKey = "dev-anon-key"
	s.log.Info("dev backend listening", zap.String("url", s.cfg.ProjectURL))
	return nil
}

// seedDev registers the dev user and signs it in so the resolver has a session
// to confirm.
func (s *stack) seedDev(ctx context.Context) error {
	u, err := s.dev.AddUser(s.cfg.Dev.Email, s.cfg.Dev.Password, map[string]any{"full_name": "Dev User"})
	if err != nil {
		return err
	}
	if s.cfg.Dev.Admin {
		s.dev.Grant(u.ID, s.cfg.ResolverConfig().Role.AdminRole)
	}

	// A separate client signs in so its SIGNED_IN event never reaches the resolver.
	acfg := authclient.DefaultConfig()
	acfg.ProjectURL = s.cfg.ProjectURL
	acfg.APIKey = s.cfg.APIKey
	signer, err := authclient.New(acfg, s.tokens, authclient.WithLogger(s.log))
	if err != nil {
		return err
	}
	defer signer.Close()
	if _, err := signer.SignInWithPassword(ctx, s.cfg.Dev.Email, s.cfg.Dev.Password); err != nil {
		return fmt.Errorf("dev sign-in: %w", err)
	}
	return nil
}

// resolver builds a Resolver over the stack. The caller closes it.
func (s *stack) resolver() (*authstate.Resolver, error) {
	b := authstate.New().
		WithConfig(s.cfg.ResolverConfig()).
		WithAuthClient(s.auth).
		WithRoleStore(s.roles).
		WithTokenStore(s.tokens).
		WithQueryCache(s.cache).
		WithLogger(s.log)
	if s.cfg.Resolver.Audit {
		b = b.WithAuditSink(authstate.NewZapSink(s.log.Named("audit")))
	}
	return b.Build()
}
