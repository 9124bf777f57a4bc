// Package cache provides a small TTL cache with in-memory and Redis backends.
package cache

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	ErrNotFound = errors.New("cache: entry not found")
	ErrCodec    = errors.New("cache: failed to encode value")
)

// Cache stores values of type V under string keys. A zero ttl passed to Set
// means the backend default.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Loader computes a value for a cache miss.
type Loader[V any] func(ctx context.Context) (V, error)

// Group deduplicates concurrent loads of the same key in front of a Cache.
type Group[V any] struct {
	cache Cache[V]
	ttl   time.Duration
	sf    singleflight.Group
}

// NewGroup wraps c. Loaded values are stored for ttl.
func NewGroup[V any](c Cache[V], ttl time.Duration) *Group[V] {
	return &Group[V]{cache: c, ttl: ttl}
}

// Get returns the cached value for key or runs load once across all
// concurrent callers. Load errors are returned and nothing is stored.
// Backend failures are treated as misses.
func (g *Group[V]) Get(ctx context.Context, key string, load Loader[V]) (V, error) {
	if v, err := g.cache.Get(ctx, key); err == nil {
		return v, nil
	}

	v, err, _ := g.sf.Do(key, func() (any, error) {
		val, err := load(ctx)
		if err != nil {
			return nil, err
		}
		_ = g.cache.Set(ctx, key, val, g.ttl)
		return val, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Forget drops key from the backend.
func (g *Group[V]) Forget(ctx context.Context, key string) error {
	g.sf.Forget(key)
	return g.cache.Delete(ctx, key)
}
