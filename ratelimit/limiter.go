package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// refill advances the bucket to now, crediting tokens at rule.RefillRate
// without ever exceeding rule.Capacity.
func (b *bucket) refill(rule Rule, now time.Time) float64 {
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(rule.Capacity, b.tokens+elapsed*rule.RefillRate)
	}
	b.lastUpdate = now
	return b.tokens
}

// Limiter holds one token bucket per identifier plus a single shared global
// bucket. Identifier buckets are created full on first use and are swept
// after sitting idle, so the table stays bounded.
type Limiter struct {
	ctx       context.Context
	cancel    context.CancelFunc
	mutex     sync.Mutex
	buckets   map[string]*bucket
	global    *bucket
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       limiterConfig

	now func() time.Time // for unit testing
}

type limiterConfig struct {
	idleAfter     time.Duration
	sweepInterval time.Duration
}

// LimiterOption configures a Limiter.
type LimiterOption func(*limiterConfig)

// WithIdleAfter sets how long an identifier bucket may go unused before the
// background sweep drops it. Defaults to 1 hour.
func WithIdleAfter(d time.Duration) LimiterOption {
	return func(c *limiterConfig) { c.idleAfter = d }
}

// WithSweepInterval sets how often idle buckets are swept. Defaults to 5 minutes.
func WithSweepInterval(d time.Duration) LimiterOption {
	return func(c *limiterConfig) { c.sweepInterval = d }
}

// NewLimiter returns a Limiter whose idle-bucket sweeper runs until parent
// is cancelled or Close is called.
func NewLimiter(parent context.Context, opts ...LimiterOption) *Limiter {
	cfg := limiterConfig{
		idleAfter:     time.Hour,
		sweepInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, cancel := context.WithCancel(parent)
	l := &Limiter{
		ctx:     ctx,
		cancel:  cancel,
		buckets: make(map[string]*bucket),
		cfg:     cfg,
		now:     time.Now,
	}
	l.waitGroup.Add(1)
	go l.run()
	return l
}

// Allow reports whether identifier may proceed under rule, consuming one
// token when it may. An unseen identifier starts with a full bucket.
func (l *Limiter) Allow(identifier string, rule Rule) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	now := l.now()
	b, ok := l.buckets[identifier]
	if !ok {
		b = &bucket{tokens: rule.Capacity, lastUpdate: now}
		l.buckets[identifier] = b
	}
	return consume(b, rule, now)
}

// AllowGlobal applies rule to the single bucket shared by every caller and
// every operation. The bucket is created full the first time it is used.
func (l *Limiter) AllowGlobal(rule Rule) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	now := l.now()
	if l.global == nil {
		l.global = &bucket{tokens: rule.Capacity, lastUpdate: now}
	}
	return consume(l.global, rule, now)
}

func consume(b *bucket, rule Rule, now time.Time) bool {
	if b.refill(rule, now) >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

// RetryAfter returns the whole seconds until identifier will next have a
// token under rule, with a floor of one second. The bucket is refilled to
// now before the shortfall is measured.
func (l *Limiter) RetryAfter(identifier string, rule Rule) int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	b, ok := l.buckets[identifier]
	if !ok {
		return 1
	}
	tokens := b.refill(rule, l.now())
	needed := 1.0 - tokens
	if needed <= 0 || rule.RefillRate <= 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(needed/rule.RefillRate)))
}

// RetryAfterGlobal is RetryAfter for the shared global bucket.
func (l *Limiter) RetryAfterGlobal(rule Rule) int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.global == nil {
		return 1
	}
	tokens := l.global.refill(rule, l.now())
	needed := 1.0 - tokens
	if needed <= 0 || rule.RefillRate <= 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(needed/rule.RefillRate)))
}

// Len returns the number of live identifier buckets.
func (l *Limiter) Len() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.buckets)
}

// Close stops the idle-bucket sweeper.
func (l *Limiter) Close() {
	l.once.Do(func() {
		l.cancel()
		l.waitGroup.Wait()
	})
}

func (l *Limiter) run() {
	defer l.waitGroup.Done()
	ticker := time.NewTicker(l.cfg.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	cutoff := l.now().Add(-l.cfg.idleAfter)
	for id, b := range l.buckets {
		if b.lastUpdate.Before(cutoff) {
			delete(l.buckets, id)
		}
	}
}
