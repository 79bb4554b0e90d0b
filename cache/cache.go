package cache

import (
	"time"
)

// Cache is a TTL-aware result cache keyed by fingerprint. Implementations
// never fail: a missing, expired or evicted entry is simply absent.
type Cache interface {
	// Get returns the value for key if present and not expired. An expired
	// entry is removed and counted as a miss.
	Get(key string) (any, bool)
	// Set stores val under key with the given TTL. If ttl <= 0, the cache's
	// configured default TTL is used.
	Set(key string, val any, ttl time.Duration)
	// Invalidate removes key if present. It has no effect on statistics.
	Invalidate(key string)
	// Clear drops every entry and resets all counters to zero.
	Clear()
	// Stats returns a snapshot of the cache counters.
	Stats() Stats
	// Close stops any background work owned by the cache.
	Close()
}

// Stats is a point-in-time snapshot of cache effectiveness. Counters are
// monotonically non-decreasing until Clear resets them.
type Stats struct {
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	Evictions      int64   `json:"evictions"`
	Size           int     `json:"size"`
	HitRatePercent float64 `json:"hit_rate_percent"`
}

// DefaultExpires is the default TTL used when Set is called with ttl <= 0.
const DefaultExpires = time.Hour

// DefaultMaxSize bounds the number of live entries unless overridden.
const DefaultMaxSize = 1000

type config struct {
	maxSize        int
	defaultExpires time.Duration
	expiryCheck    time.Duration
}

// Option configures a Cache implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		maxSize:        DefaultMaxSize,
		defaultExpires: DefaultExpires,
		expiryCheck:    time.Minute,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithMaxSize sets the entry capacity. When full, the least-recently-used
// entry is evicted to make room. Defaults to DefaultMaxSize.
func WithMaxSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithExpires sets the default TTL for cached values. This is used when
// Set is called with ttl <= 0. Defaults to DefaultExpires (1 hour).
func WithExpires(d time.Duration) Option {
	return func(c *config) { c.defaultExpires = d }
}

// WithExpiryCheck sets the interval for background expired entry cleanup.
// Defaults to 1 minute.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}
