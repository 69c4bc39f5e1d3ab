// Package cache holds process-local copies of externally stored
// configuration. A Cache revalidates its value through a cheap version probe
// (typically a file mtime) at most once per TTL, and reloads only when the
// version changed.
package cache

import (
	"sync"
	"time"
)

// VersionFunc returns an opaque version of the backing source.
type VersionFunc func() (string, error)

// LoadFunc reads the backing source.
type LoadFunc[T any] func() (T, error)

type Cache[T any] struct {
	ttl     time.Duration
	version VersionFunc
	load    LoadFunc[T]
	now     func() time.Time

	mu          sync.Mutex
	value       T
	loaded      bool
	current     string
	lastChecked time.Time
}

func New[T any](ttl time.Duration, version VersionFunc, load LoadFunc[T]) *Cache[T] {
	return &Cache[T]{
		ttl:     ttl,
		version: version,
		load:    load,
		now:     time.Now,
	}
}

// RefreshIfStale returns the cached value, first reloading it when the TTL
// has elapsed and the source version moved. The bool reports whether a reload
// happened. On error the previous value is kept and returned alongside it.
func (c *Cache[T]) RefreshIfStale() (T, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.loaded && now.Sub(c.lastChecked) < c.ttl {
		return c.value, false, nil
	}
	c.lastChecked = now

	v, err := c.version()
	if err != nil {
		return c.value, false, err
	}
	if c.loaded && v == c.current {
		return c.value, false, nil
	}

	val, err := c.load()
	if err != nil {
		return c.value, false, err
	}
	c.value = val
	c.current = v
	c.loaded = true
	return c.value, true, nil
}

// Value returns the cached value without revalidating.
func (c *Cache[T]) Value() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.loaded
}

// Invalidate forces the next RefreshIfStale to reload.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.current = ""
	c.mu.Unlock()
}
