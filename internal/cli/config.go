package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vhorizon/authstate"
)

// Config is the on-disk configuration of the authstate CLI.
type Config struct {
	ProjectURL string         `yaml:"project_url"`
	APIKey     string         `yaml:"api_key"`
	Log        LogConfig      `yaml:"log"`
	Storage    StorageConfig  `yaml:"storage"`
	Roles      RolesConfig    `yaml:"roles"`
	Resolver   ResolverConfig `yaml:"resolver"`
	Server     ServerConfig   `yaml:"server"`
	Dev        DevConfig      `yaml:"dev"`
}

type LogConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

// StorageConfig selects where the session blob is persisted.
type StorageConfig struct {
	Driver   string        `yaml:"driver"` // file, redis or memory
	Dir      string        `yaml:"dir"`
	RedisURL string        `yaml:"redis_url"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// RolesConfig selects the role-assignment backend.
type RolesConfig struct {
	Driver      string `yaml:"driver"` // rest, postgres or memory
	DatabaseURL string `yaml:"database_url"`
	AdminRole   string `yaml:"admin_role"`
}

type ResolverConfig struct {
	InitTimeout      time.Duration `yaml:"init_timeout"`
	FallbackTimeout  time.Duration `yaml:"fallback_timeout"`
	RoleTimeout      time.Duration `yaml:"role_timeout"`
	SignOutTimeout   time.Duration `yaml:"sign_out_timeout"`
	LateRefine       *bool         `yaml:"late_refine"`
	LateRefineWindow time.Duration `yaml:"late_refine_window"`
	DeferRole        bool          `yaml:"defer_role"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	Audit            bool          `yaml:"audit"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DevConfig seeds the in-process dev backend started by --dev.
type DevConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	Admin     bool   `yaml:"admin"`
}

// DefaultConfig returns the values used when neither the file nor the
// environment set them.
func DefaultConfig() Config {
	def := authstate.DefaultConfig()
	dir := ".authstate"
	if home, err := os.UserConfigDir(); err == nil {
		dir = filepath.Join(home, "authstate")
	}
	return Config{
		Log:     LogConfig{Env: "dev", Level: "info"},
		Storage: StorageConfig{Driver: "file", Dir: dir, Prefix: "authstate:"},
		Roles:   RolesConfig{Driver: "rest", AdminRole: def.Role.AdminRole},
		Resolver: ResolverConfig{
			InitTimeout:      def.Init.Timeout,
			FallbackTimeout:  def.Init.FallbackTimeout,
			RoleTimeout:      def.Role.Timeout,
			SignOutTimeout:   def.SignOut.Timeout,
			LateRefineWindow: def.Init.LateRefineWindow,
			// The auth client already retries each HTTP request.
			RetryAttempts: 1,
		},
		Server: ServerConfig{Addr: ":8080"},
		Dev: DevConfig{
			JWTSecret: "authstate-dev-secret-do-not-use",
			Email:     "dev@authstate.local",
			Password:  "dev-password",
			Admin:     true,
		},
	}
}

// LoadConfig reads .env files (missing ones are ignored), then the YAML file at
// path with ${VAR} expansion, then AUTHSTATE_* overrides. An empty path skips
// the file.
func LoadConfig(path string, envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"AUTHSTATE_PROJECT_URL":  &c.ProjectURL,
		"AUTHSTATE_API_KEY":      &c.APIKey,
		"AUTHSTATE_DATABASE_URL": &c.Roles.DatabaseURL,
		"AUTHSTATE_REDIS_URL":    &c.Storage.RedisURL,
		"AUTHSTATE_LOG_LEVEL":    &c.Log.Level,
		"AUTHSTATE_ADDR":         &c.Server.Addr,
		"AUTHSTATE_JWT_SECRET":   &c.Dev.JWTSecret,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("AUTHSTATE_INIT_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("AUTHSTATE_INIT_TIMEOUT: %w", err)
		}
		c.Resolver.InitTimeout = d
	}
	if v, ok := os.LookupEnv("AUTHSTATE_LATE_REFINE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUTHSTATE_LATE_REFINE: %w", err)
		}
		c.Resolver.LateRefine = &b
	}
	return nil
}

// Validate checks the fields every command needs.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ProjectURL) == "" {
		return errors.New("project_url is required (or AUTHSTATE_PROJECT_URL)")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("api_key is required (or AUTHSTATE_API_KEY)")
	}
	switch c.Storage.Driver {
	case "file", "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			return errors.New("storage.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Roles.Driver {
	case "rest", "memory":
	case "postgres":
		if c.Roles.DatabaseURL == "" {
			return errors.New("roles.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown roles driver %q", c.Roles.Driver)
	}
	return nil
}

// ResolverConfig maps the file's resolver section onto the library config.
func (c *Config) ResolverConfig() authstate.Config {
	cfg := authstate.DefaultConfig()
	r := c.Resolver
	if r.InitTimeout > 0 {
		cfg.Init.Timeout = r.InitTimeout
	}
	if r.FallbackTimeout > 0 {
		cfg.Init.FallbackTimeout = r.FallbackTimeout
	}
	if r.RoleTimeout > 0 {
		cfg.Role.Timeout = r.RoleTimeout
	}
	if r.SignOutTimeout > 0 {
		cfg.SignOut.Timeout = r.SignOutTimeout
	}
	if r.LateRefine != nil {
		cfg.Init.LateRefine = *r.LateRefine
	}
	if r.LateRefineWindow > 0 {
		cfg.Init.LateRefineWindow = r.LateRefineWindow
	}
	if r.RetryAttempts > 0 {
		cfg.Init.Retry.MaxAttempts = r.RetryAttempts
	}
	if c.Roles.AdminRole != "" {
		cfg.Role.AdminRole = c.Roles.AdminRole
	}
	cfg.Init.DeferRoleOnFallback = r.DeferRole
	cfg.Audit.Enabled = r.Audit
	return cfg
}
