// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

// Package config loads the patronly configuration.
//
// Values are layered, later sources overriding earlier ones:
//
//  1. built-in defaults
//  2. an optional YAML file (--config)
//  3. DATABASE_URL and PATRONLY_* environment variables, where "__" separates
//     nesting levels (PATRONLY_SESSION__TTL=30m sets session.ttl)
//  4. command-line flags that were explicitly set
package config

import (
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/patronly/patronly/internal/auth"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "PATRONLY_"

// Environments.
const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"
)

// Session backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the full process configuration.
type Config struct {
	Environment string         `koanf:"environment"`
	Log         LogConfig      `koanf:"log"`
	HTTP        HTTPConfig     `koanf:"http"`
	Metrics     MetricsConfig  `koanf:"metrics"`
	Database    DatabaseConfig `koanf:"database"`
	Redis       RedisConfig    `koanf:"redis"`
	Session     SessionConfig  `koanf:"session"`
	Hasher      HasherConfig   `koanf:"hasher"`
	Auth        AuthConfig     `koanf:"auth"`
	Cookie      CookieConfig   `koanf:"cookie"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format"` // json or text
	Level  string `koanf:"level"`  // debug, info, warn or error
}

// HTTPConfig configures the auth HTTP server.
type HTTPConfig struct {
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes      int64         `koanf:"max_body_bytes"`
}

// MetricsConfig configures the observability server. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL            string        `koanf:"url"`
	MaxConns       int32         `koanf:"max_conns"`
	MinConns       int32         `koanf:"min_conns"`
	ConnectRetries uint64        `koanf:"connect_retries"`
	RetryBackoff   time.Duration `koanf:"retry_backoff"`
	AutoMigrate    bool          `koanf:"auto_migrate"`
}

// RedisConfig configures the Redis session backend.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// SessionConfig configures session lifetime and storage.
type SessionConfig struct {
	Backend      string        `koanf:"backend"`
	TTL          time.Duration `koanf:"ttl"`
	ReapInterval time.Duration `koanf:"reap_interval"`
}

// HasherConfig configures argon2id. Zero cost parameters use the defaults.
type HasherConfig struct {
	Workers int    `koanf:"workers"` // 0 = GOMAXPROCS
	Memory  uint32 `koanf:"memory"`  // KiB
	Time    uint32 `koanf:"time"`
	Threads uint8  `koanf:"threads"`
}

// AuthConfig configures the auth service.
type AuthConfig struct {
	EqualizeSigninTiming bool `koanf:"equalize_signin_timing"`
}

// CookieConfig overrides the environment's session cookie attributes.
type CookieConfig struct {
	Secure   string `koanf:"secure"`    // auto, true or false
	SameSite string `koanf:"same_site"` // auto, default, lax, strict or none
}

// Default returns the built-in configuration.
func Default() Config {
	argon := auth.DefaultArgon2Params()
	return Config{
		Environment: EnvironmentProduction,
		Log:         LogConfig{Format: "json", Level: "info"},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MaxBodyBytes:      1 << 20,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Database: DatabaseConfig{
			MaxConns:       10,
			ConnectRetries: 5,
			RetryBackoff:   500 * time.Millisecond,
		},
		Redis: RedisConfig{Addr: "localhost:6379", KeyPrefix: "patronly"},
		Session: SessionConfig{
			Backend:      BackendPostgres,
			TTL:          auth.DefaultSessionTTL,
			ReapInterval: auth.DefaultReapInterval,
		},
		Hasher: HasherConfig{
			Memory:  argon.Memory,
			Time:    argon.Time,
			Threads: argon.Threads,
		},
		Cookie: CookieConfig{Secure: "auto", SameSite: "auto"},
	}
}

func (c Config) flatten() map[string]any {
	return map[string]any{
		"environment":                 c.Environment,
		"log.format":                  c.Log.Format,
		"log.level":                   c.Log.Level,
		"http.addr":                   c.HTTP.Addr,
		"http.read_header_timeout":    c.HTTP.ReadHeaderTimeout,
		"http.read_timeout":           c.HTTP.ReadTimeout,
		"http.write_timeout":          c.HTTP.WriteTimeout,
		"http.idle_timeout":           c.HTTP.IdleTimeout,
		"http.shutdown_timeout":       c.HTTP.ShutdownTimeout,
		"http.max_body_bytes":         c.HTTP.MaxBodyBytes,
		"metrics.addr":                c.Metrics.Addr,
		"database.url":                c.Database.URL,
		"database.max_conns":          c.Database.MaxConns,
		"database.min_conns":          c.Database.MinConns,
		"database.connect_retries":    c.Database.ConnectRetries,
		"database.retry_backoff":      c.Database.RetryBackoff,
		"database.auto_migrate":       c.Database.AutoMigrate,
		"redis.addr":                  c.Redis.Addr,
		"redis.password":              c.Redis.Password,
		"redis.db":                    c.Redis.DB,
		"redis.key_prefix":            c.Redis.KeyPrefix,
		"session.backend":             c.Session.Backend,
		"session.ttl":                 c.Session.TTL,
		"session.reap_interval":       c.Session.ReapInterval,
		"hasher.workers":              c.Hasher.Workers,
		"hasher.memory":               c.Hasher.Memory,
		"hasher.time":                 c.Hasher.Time,
		"hasher.threads":              c.Hasher.Threads,
		"auth.equalize_signin_timing": c.Auth.EqualizeSigninTiming,
		"cookie.secure":               c.Cookie.Secure,
		"cookie.same_site":            c.Cookie.SameSite,
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"environment":     "environment",
	"log-format":      "log.format",
	"log-level":       "log.level",
	"http-addr":       "http.addr",
	"metrics-addr":    "metrics.addr",
	"database-url":    "database.url",
	"auto-migrate":    "database.auto_migrate",
	"session-backend": "session.backend",
	"session-ttl":     "session.ttl",
	"reap-interval":   "session.reap_interval",
	"redis-addr":      "redis.addr",
	"hash-workers":    "hasher.workers",
}

// RegisterFlags adds the configuration flags to fs. Their defaults mirror
// Default so that help output is accurate; unset flags never override other
// sources.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String("environment", def.Environment, "deployment environment (production or development)")
	fs.String("log-format", def.Log.Format, "log format (json or text)")
	fs.String("log-level", def.Log.Level, "log level (debug, info, warn, error)")
	fs.String("http-addr", def.HTTP.Addr, "auth HTTP listen address")
	fs.String("metrics-addr", def.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("database-url", "", "PostgreSQL connection URL (default: DATABASE_URL)")
	fs.Bool("auto-migrate", def.Database.AutoMigrate, "apply pending migrations on startup")
	fs.String("session-backend", def.Session.Backend, "session store (postgres or redis)")
	fs.Duration("session-ttl", def.Session.TTL, "session lifetime")
	fs.Duration("reap-interval", def.Session.ReapInterval, "expired session sweep interval")
	fs.String("redis-addr", def.Redis.Addr, "Redis address for the redis session backend")
	fs.Int("hash-workers", def.Hasher.Workers, "concurrent password hashes (0 = GOMAXPROCS)")
}

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty), the environment and fs (if non-nil). The result is validated.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Default().flatten(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("source", "file").
				With("path", path).
				Wrap(err)
		}
	}

	if err := k.Load(env.ProviderWithValue("DATABASE_URL", ".", skipEmpty(databaseURLKey)), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", skipEmpty(envKey)), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "decode").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns PATRONLY_SESSION__REAP_INTERVAL into session.reap_interval.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// skipEmpty drops variables that are set but empty so they do not mask
// lower layers.
func skipEmpty(key func(string) string) func(string, string) (string, any) {
	return func(name, value string) (string, any) {
		if value == "" {
			return "", nil
		}
		return key(name), value
	}
}

func databaseURLKey(s string) string {
	if s != "DATABASE_URL" {
		return ""
	}
	return "database.url"
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	invalid := func(key string, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	if !slices.Contains([]string{EnvironmentProduction, EnvironmentDevelopment}, c.Environment) {
		return invalid("environment", "environment must be %q or %q, got %q",
			EnvironmentProduction, EnvironmentDevelopment, c.Environment)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		return invalid("log.level", "unknown log level %q", c.Log.Level)
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http address is required")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return invalid("http.max_body_bytes", "max body size must be positive")
	}
	if c.Session.TTL <= 0 {
		return invalid("session.ttl", "session ttl must be positive, got %s", c.Session.TTL)
	}
	if c.Session.ReapInterval <= 0 {
		return invalid("session.reap_interval", "reap interval must be positive, got %s", c.Session.ReapInterval)
	}
	switch c.Session.Backend {
	case BackendPostgres:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return invalid("redis.addr", "redis address is required for the redis session backend")
		}
	default:
		return invalid("session.backend", "session backend must be %q or %q, got %q",
			BackendPostgres, BackendRedis, c.Session.Backend)
	}
	if c.Hasher.Workers < 0 {
		return invalid("hasher.workers", "hash workers cannot be negative")
	}
	if c.Database.MinConns < 0 || c.Database.MaxConns < 0 {
		return invalid("database.max_conns", "connection limits cannot be negative")
	}
	if c.Database.MaxConns > 0 && c.Database.MinConns > c.Database.MaxConns {
		return invalid("database.min_conns", "min conns %d exceeds max conns %d",
			c.Database.MinConns, c.Database.MaxConns)
	}
	if _, err := parseSecure(c.Cookie.Secure); err != nil {
		return err
	}
	if _, err := parseSameSite(c.Cookie.SameSite); err != nil {
		return err
	}
	if policy := c.CookiePolicy(); policy.SameSite == http.SameSiteNoneMode && !policy.Secure {
		return invalid("cookie.same_site", "SameSite=None requires a Secure cookie (environment %q, secure %q)",
			c.Environment, c.Cookie.Secure)
	}
	return nil
}

// Development reports whether the process runs in the development environment.
func (c *Config) Development() bool {
	return c.Environment == EnvironmentDevelopment
}

// RequireDatabaseURL returns the database URL or an error if none is set.
func (c *Config) RequireDatabaseURL() (string, error) {
	if c.Database.URL == "" {
		return "", oops.Code("CONFIG_INVALID").
			With("key", "database.url").
			Errorf("database URL is required (set DATABASE_URL or --database-url)")
	}
	return c.Database.URL, nil
}

// CookiePolicy resolves the session cookie attributes for this deployment.
func (c *Config) CookiePolicy() auth.SessionCookiePolicy {
	policy := auth.DefaultCookiePolicy(c.Development())
	if secure, _ := parseSecure(c.Cookie.Secure); secure != nil { //nolint:errcheck // validated
		policy.Secure = *secure
	}
	if sameSite, _ := parseSameSite(c.Cookie.SameSite); sameSite != 0 { //nolint:errcheck // validated
		policy.SameSite = sameSite
	}
	return policy
}

// ReaperConfig returns the expired session sweep settings.
func (c *Config) ReaperConfig() auth.ReaperConfig {
	rc := auth.DefaultReaperConfig()
	if c.Session.ReapInterval > 0 {
		rc.Interval = c.Session.ReapInterval
	}
	return rc
}

// Argon2Params returns the hasher parameters.
func (c *Config) Argon2Params() auth.Argon2Params {
	return auth.Argon2Params{
		Memory:  c.Hasher.Memory,
		Time:    c.Hasher.Time,
		Threads: c.Hasher.Threads,
	}
}

func parseSecure(v string) (*bool, error) {
	switch strings.ToLower(v) {
	case "", "auto":
		return nil, nil
	case "true":
		t := true
		return &t, nil
	case "false":
		f := false
		return &f, nil
	}
	return nil, oops.Code("CONFIG_INVALID").
		With("key", "cookie.secure").
		Errorf("cookie secure must be auto, true or false, got %q", v)
}

func parseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(v) {
	case "", "auto":
		return 0, nil
	case "default":
		return http.SameSiteDefaultMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	}
	return 0, oops.Code("CONFIG_INVALID").
		With("key", "cookie.same_site").
		Errorf("cookie same_site must be auto, default, lax, strict or none, got %q", v)
}

// fileExists reports whether path names an existing file.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ResolvePath returns explicit if set, otherwise the first existing default
// config file location, otherwise "".
func ResolvePath(explicit string, candidates ...string) string {
	if explicit != "" {
		return explicit
	}
	for _, c := range candidates {
		if fileExists(c) {
			return c
		}
	}
	return ""
}
