// Package redis provides a Redis implementation of persist.Cache, shared
// by every process pointed at the same server.
package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/syssam/persist"
)

// client captures the subset of go-redis commands the cache uses.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Close() error
}

// Config describes the connection and key layout of the cache.
type Config struct {
	// Client is used when set; otherwise a client is created from Addr.
	Client   redis.UniversalClient
	Addr     string
	Username string
	Password string
	DB       int
	// Namespace is prepended to every key, isolating caches that share a
	// database. Clear removes only the keys of the namespace.
	Namespace string
	// ScanCount is the COUNT hint of prefix scans. Defaults to 500.
	ScanCount int64
}

// Cache is a persist.Cache backed by Redis.
type Cache struct {
	cfg       Config
	client    client
	ownClient bool
}

var _ persist.Cache = (*Cache)(nil)

// New returns a cache for cfg.
func New(cfg Config) (*Cache, error) {
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 500
	}
	c := &Cache{cfg: cfg}
	switch {
	case cfg.Client != nil:
		c.client = cfg.Client
	case cfg.Addr != "":
		c.client = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
		c.ownClient = true
	default:
		return nil, errors.New("redis cache: client not configured")
	}
	return c, nil
}

func newWithClient(cl client, cfg Config) *Cache {
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 500
	}
	return &Cache{cfg: cfg, client: cl}
}

func (c *Cache) key(k string) string { return c.cfg.Namespace + k }

// Get implements persist.Cache.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

// Set implements persist.Cache.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

// Delete implements persist.Cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

// DeletePrefix implements persist.Cache. Keys are found with SCAN, so
// entries written during the scan may survive.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) error {
	match := escapeGlob(c.key(prefix)) + "*"
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, c.cfg.ScanCount).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Clear implements persist.Cache.
func (c *Cache) Clear(ctx context.Context) error {
	return c.DeletePrefix(ctx, "")
}

// Close closes the client if the cache created it.
func (c *Cache) Close() error {
	if c.ownClient {
		return c.client.Close()
	}
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob quotes the pattern characters of a SCAN MATCH argument.
func escapeGlob(s string) string { return globEscaper.Replace(s) }
