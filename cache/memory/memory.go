// Package memory provides an in-process LRU implementation of persist.Cache.
package memory

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/syssam/persist"
)

// DefaultSize is the capacity used when none is given.
const DefaultSize = 10_000

type entry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// Cache is a size-bounded LRU cache with per-entry TTL. Expired entries are
// dropped when read.
type Cache struct {
	lru *lru.Cache[string, entry]
	now func() time.Time
}

var _ persist.Cache = (*Cache)(nil)

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a cache holding at most size entries. A size of 0 or less
// selects DefaultSize.
func New(size int, opts ...Option) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	l, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	c := &Cache{lru: l, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get implements persist.Cache.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.lru.Remove(key)
		return nil, nil
	}
	return e.value, nil
}

// Set implements persist.Cache.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.lru.Add(key, e)
	return nil
}

// Delete implements persist.Cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// DeletePrefix implements persist.Cache.
func (c *Cache) DeletePrefix(_ context.Context, prefix string) error {
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}
	return nil
}

// Clear implements persist.Cache.
func (c *Cache) Clear(context.Context) error {
	c.lru.Purge()
	return nil
}

// Len returns the number of entries, including expired ones not yet read.
func (c *Cache) Len() int { return c.lru.Len() }
