// Package config loads persist settings from defaults, a YAML file,
// PERSIST_ environment variables and command line flags, in increasing
// order of precedence.
//
//	database:
//	  driver: postgres
//	  dsn: postgres://localhost/app?sslmode=disable
//	pool:
//	  max_connections: 20
//	  idle_timeout: 5m
//	transaction:
//	  propagation: required
//	  isolation: read committed
//	  timeout: 30s
//	cache:
//	  kind: redis
//	  ttl: 10m
//	  redis:
//	    addr: localhost:6379
//	log:
//	  level: debug
//	  format: json
//
// Nested keys are addressed from the environment with a double underscore:
// PERSIST_POOL__MAX_CONNECTIONS=50.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/syssam/persist"
	"github.com/syssam/persist/cache/memory"
	"github.com/syssam/persist/cache/redis"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/txn"
)

// EnvPrefix is the default prefix of environment overrides.
const EnvPrefix = "PERSIST_"

// Cache kinds.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the complete persist configuration.
type Config struct {
	Database    Database           `koanf:"database"`
	Pool        dialect.PoolConfig `koanf:"pool"`
	Transaction Transaction        `koanf:"transaction"`
	Cache       Cache              `koanf:"cache"`
	Log         Log                `koanf:"log"`
}

// Database selects the backend. Driver is a database/sql driver name
// ("postgres", "pgx", "mysql", "sqlite").
type Database struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

// Transaction holds the default options of transactional scopes.
type Transaction struct {
	Propagation string        `koanf:"propagation"`
	Isolation   string        `koanf:"isolation"`
	Timeout     time.Duration `koanf:"timeout"`
	ReadOnly    bool          `koanf:"read_only"`
}

// Options converts t to txn.Options.
func (t Transaction) Options() (txn.Options, error) {
	p, err := txn.ParsePropagation(t.Propagation)
	if err != nil {
		return txn.Options{}, err
	}
	l, err := dialect.ParseIsolation(t.Isolation)
	if err != nil {
		return txn.Options{}, err
	}
	if t.Timeout < 0 {
		return txn.Options{}, fmt.Errorf("config: negative transaction timeout %s", t.Timeout)
	}
	return txn.Options{Propagation: p, Isolation: l, Timeout: t.Timeout, ReadOnly: t.ReadOnly}, nil
}

// Cache configures the second-level row cache.
type Cache struct {
	Kind  string        `koanf:"kind"`
	Size  int           `koanf:"size"`
	TTL   time.Duration `koanf:"ttl"`
	Redis Redis         `koanf:"redis"`
}

// Redis holds the connection of a redis cache.
type Redis struct {
	Addr      string `koanf:"addr"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	Namespace string `koanf:"namespace"`
}

// New builds the configured cache. It returns nil for kind none.
func (c Cache) New() (persist.Cache, error) {
	switch strings.ToLower(c.Kind) {
	case "", CacheNone:
		return nil, nil
	case CacheMemory:
		mc, err := memory.New(c.Size)
		if err != nil {
			return nil, err
		}
		return mc, nil
	case CacheRedis:
		rc, err := redis.New(redis.Config{
			Addr:      c.Redis.Addr,
			Username:  c.Redis.Username,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			Namespace: c.Redis.Namespace,
		})
		if err != nil {
			return nil, err
		}
		return rc, nil
	}
	return nil, fmt.Errorf("config: unknown cache kind %q", c.Kind)
}

// Log configures the slog logger of the process.
type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Logger returns a logger writing to w.
func (l Log) Logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return nil, fmt.Errorf("config: log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(l.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("config: unknown log format %q", l.Format)
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Driver != "" {
		if _, err := dialect.Lookup(c.Database.Driver); err != nil {
			errs = append(errs, fmt.Errorf("config: database driver: %w", err))
		}
	}
	if _, err := c.Transaction.Options(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Cache.Kind) {
	case "", CacheNone, CacheMemory:
	case CacheRedis:
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("config: cache.redis.addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown cache kind %q", c.Cache.Kind))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("config: negative cache ttl %s", c.Cache.TTL))
	}
	if _, err := c.Log.Logger(io.Discard); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Defaults returns the settings used when nothing overrides them.
func Defaults() map[string]any {
	return map[string]any{
		"transaction.propagation": txn.Required.String(),
		"transaction.isolation":   dialect.IsolationDefault.String(),
		"cache.kind":              CacheNone,
		"cache.size":              memory.DefaultSize,
		"cache.ttl":               5 * time.Minute,
		"log.level":               "info",
		"log.format":              "text",
	}
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"driver":     "database.driver",
	"dsn":        "database.dsn",
	"log-level":  "log.level",
	"log-format": "log.format",
	"cache":      "cache.kind",
	"redis-addr": "cache.redis.addr",
}

type loadOptions struct {
	envPrefix string
	flags     *pflag.FlagSet
}

// Option configures Load.
type Option func(*loadOptions)

// WithEnvPrefix replaces the PERSIST_ environment prefix.
func WithEnvPrefix(prefix string) Option {
	return func(o *loadOptions) {
		o.envPrefix = prefix
	}
}

// WithFlags loads explicitly set flags over file and environment values.
// Flags are matched by name: driver, dsn, log-level, log-format, cache and
// redis-addr.
func WithFlags(fs *pflag.FlagSet) Option {
	return func(o *loadOptions) {
		o.flags = fs
	}
}

// Load reads the configuration. An empty path skips the file.
func Load(path string, opts ...Option) (*Config, error) {
	o := &loadOptions{envPrefix: EnvPrefix}
	for _, opt := range opts {
		opt(o)
	}
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	prefix := o.envPrefix
	if err := k.Load(env.Provider(prefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, prefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	if o.flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(o.flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(o.flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("config: flags: %w", err)
		}
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
