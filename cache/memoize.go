package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"
)

// Memoizer pairs a Cache with a singleflight group so that concurrent
// misses for the same fingerprint execute the underlying work exactly once.
type Memoizer struct {
	cache Cache
	group singleflight.Group
}

// NewMemoizer returns a Memoizer backed by c.
func NewMemoizer(c Cache) *Memoizer {
	return &Memoizer{cache: c}
}

// Cache returns the underlying cache, for stats and administrative access.
func (m *Memoizer) Cache() Cache {
	return m.cache
}

// MemoConfig identifies a memoized computation and its cache TTL.
type MemoConfig struct {
	// Name identifies the computation, e.g. "scoring.fetch".
	Name string
	// Args are the ordered positional arguments.
	Args []any
	// Kwargs are the keyed arguments; insertion order is irrelevant.
	Kwargs map[string]any
	// Expires is the TTL for the cached result. Defaults to the cache's
	// default TTL if zero.
	Expires time.Duration
}

// Invoker produces a value of type T on a cache miss.
type Invoker[T any] func(ctx context.Context) (T, error)

// Memoize looks up the fingerprint of cfg in the cache and, on a miss,
// invokes the function and stores its result. Failures are never cached.
// The returned bool reports whether the value came from the cache.
func Memoize[T any](ctx context.Context, m *Memoizer, cfg MemoConfig, invoke Invoker[T]) (T, bool, error) {
	key := Fingerprint(cfg.Name, cfg.Args, cfg.Kwargs)
	if val, ok := m.cache.Get(key); ok {
		if typed, ok := val.(T); ok {
			return typed, true, nil
		}
		// A different type under the same fingerprint means the caller
		// reused a name across result types. Treat as a miss.
		m.cache.Invalidate(key)
	}

	val, err, _ := m.group.Do(key, func() (any, error) {
		result, err := invoke(ctx)
		if err != nil {
			return nil, err
		}
		m.cache.Set(key, result, cfg.Expires)
		return result, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	typed, ok := val.(T)
	if !ok {
		var zero T
		return zero, false, errors.Newf("cache: cannot convert value of type %T to %T", val, zero)
	}
	return typed, false, nil
}
