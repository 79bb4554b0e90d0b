package guard

import (
	"context"
	"math"
	"time"

	"github.com/trackforge/go-guard/cache"
	"github.com/trackforge/go-guard/logger"
	"github.com/trackforge/go-guard/ratelimit"
	"github.com/trackforge/go-guard/resilience"
)

// Work is the unit being protected. It may fail, and callers are expected
// to treat it as safe to retry after the indicated delay.
type Work func(ctx context.Context) (any, error)

// Request describes one protected call.
type Request struct {
	// Operation names the protected call and keys its cache fingerprint.
	Operation string
	// Identifier is the caller identity used for per-caller limiting,
	// typically the client address.
	Identifier string
	// Rule selects the named rate-limit preset for this operation kind.
	Rule string
	// Args and Kwargs complete the cache fingerprint for the call.
	Args   []any
	Kwargs map[string]any
	// CacheTTL is the TTL for a stored result. Zero uses the cache default;
	// negative disables caching for this call.
	CacheTTL time.Duration
	// MinDelay overrides the throttle spacing. Zero uses the guard default;
	// negative disables the throttle gate for this call.
	MinDelay time.Duration
}

type config struct {
	minDelay time.Duration
	rules    ratelimit.Rules
	breaker  resilience.BreakerConfig
	cacheTTL time.Duration
}

// Option configures a Guard.
type Option func(*config)

// WithMinDelay sets the default minimum spacing between protected calls.
func WithMinDelay(d time.Duration) Option {
	return func(c *config) { c.minDelay = d }
}

// WithRules replaces the built-in rate-limit rule presets.
func WithRules(rules ratelimit.Rules) Option {
	return func(c *config) { c.rules = rules }
}

// WithBreakerConfig replaces the default circuit breaker configuration.
func WithBreakerConfig(cfg resilience.BreakerConfig) Option {
	return func(c *config) { c.breaker = cfg }
}

// WithCacheTTL sets the default TTL for cached results.
func WithCacheTTL(d time.Duration) Option {
	return func(c *config) { c.cacheTTL = d }
}

// Guard composes the throttle gate, circuit breaker, two-tier rate limiter
// and result cache around arbitrary work. All state is owned by the Guard
// instance; nothing is shared through package globals.
type Guard struct {
	log      logger.Logger
	memo     *cache.Memoizer
	limiter  *ratelimit.Limiter
	throttle *resilience.Throttle
	breaker  *resilience.Breaker
	cfg      config
}

// New builds a Guard with a fresh cache, limiter, throttle and breaker
// whose lifecycles end when ctx is cancelled or Close is called.
func New(ctx context.Context, log logger.Logger, opts ...Option) *Guard {
	cfg := config{
		minDelay: resilience.DefaultMinDelay,
		rules:    ratelimit.DefaultRules(),
		breaker:  resilience.DefaultBreakerConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cacheOpts := []cache.Option{}
	if cfg.cacheTTL > 0 {
		cacheOpts = append(cacheOpts, cache.WithExpires(cfg.cacheTTL))
	}
	return &Guard{
		log:      log.WithPrefix("[guard]"),
		memo:     cache.NewMemoizer(cache.NewLRU(ctx, cacheOpts...)),
		limiter:  ratelimit.NewLimiter(ctx),
		throttle: resilience.NewThrottle(),
		breaker:  resilience.NewBreaker(cfg.breaker),
		cfg:      cfg,
	}
}

// Do runs work behind every gate, in order: throttle, circuit breaker,
// global limiter, per-identifier limiter, then the result cache. The first
// gate to refuse short-circuits with a denial; the cache is consulted only
// once every rate check has passed, since misses are the expensive path
// being protected.
func (g *Guard) Do(ctx context.Context, req Request, work Work) Outcome {
	if outcome, denied := g.checkGates(req); denied {
		return outcome
	}

	var value any
	var cached bool
	var err error
	if req.CacheTTL < 0 {
		value, err = work(ctx)
	} else {
		value, cached, err = cache.Memoize(ctx, g.memo, cache.MemoConfig{
			Name:    req.Operation,
			Args:    req.Args,
			Kwargs:  req.Kwargs,
			Expires: req.CacheTTL,
		}, func(ctx context.Context) (any, error) {
			return work(ctx)
		})
	}
	if err != nil {
		if IsTerminal(err) {
			g.log.Debug("%s failed terminally: %v", req.Operation, err)
		} else {
			g.breaker.RecordFailure()
			g.log.Warn("%s failed, counted against breaker: %v", req.Operation, err)
		}
		return failedOutcome(err)
	}
	return resultOutcome(value, cached)
}

func (g *Guard) checkGates(req Request) (Outcome, bool) {
	minDelay := req.MinDelay
	if minDelay == 0 {
		minDelay = g.cfg.minDelay
	}
	if minDelay > 0 {
		if ok, wait := g.throttle.Allow(minDelay); !ok {
			retryAfter := math.Round(wait.Seconds()*100) / 100
			g.log.Debug("%s throttled for %.2fs", req.Operation, retryAfter)
			return deniedOutcome(DenyThrottled, retryAfter), true
		}
	}

	if g.breaker.ShortCircuit() {
		retryAfter := g.breaker.RetryAfter()
		g.log.Warn("%s refused, circuit open for another %ds", req.Operation, retryAfter)
		return deniedOutcome(DenyCircuitOpen, float64(retryAfter)), true
	}

	rule := g.cfg.rules.Get(req.Rule)
	if !g.limiter.AllowGlobal(g.cfg.rules.Global) {
		retryAfter := g.limiter.RetryAfterGlobal(g.cfg.rules.Global)
		g.log.Warn("%s refused, global rate limit exhausted", req.Operation)
		return deniedOutcome(DenyRateLimitedGlobal, float64(retryAfter)), true
	}
	if !g.limiter.Allow(req.Identifier, rule) {
		retryAfter := g.limiter.RetryAfter(req.Identifier, rule)
		g.log.Debug("%s refused for %s, retry in %ds", req.Operation, req.Identifier, retryAfter)
		return deniedOutcome(DenyRateLimitedClient, float64(retryAfter)), true
	}
	return Outcome{}, false
}

// Invalidate drops the cached result for the exact call identified by req.
func (g *Guard) Invalidate(req Request) {
	g.memo.Cache().Invalidate(cache.Fingerprint(req.Operation, req.Args, req.Kwargs))
}

// RecordFailure counts an out-of-band failure against the circuit breaker,
// for callers that talk to the protected dependency outside Do.
func (g *Guard) RecordFailure() {
	g.breaker.RecordFailure()
}

// CacheStats returns the result cache counters.
func (g *Guard) CacheStats() cache.Stats {
	return g.memo.Cache().Stats()
}

// ClearCache drops every cached result and resets the cache counters.
func (g *Guard) ClearCache() {
	g.memo.Cache().Clear()
}

// Stats is a combined snapshot of the throttle and breaker state.
type Stats struct {
	Throttle resilience.ThrottleStats `json:"throttle"`
	Breaker  resilience.BreakerStats  `json:"breaker"`
	Buckets  int                      `json:"buckets"`
}

// Stats returns the protection-layer state for operational monitoring.
func (g *Guard) Stats() Stats {
	return Stats{
		Throttle: g.throttle.Stats(),
		Breaker:  g.breaker.Stats(),
		Buckets:  g.limiter.Len(),
	}
}

// Close releases the cache and limiter background workers.
func (g *Guard) Close() {
	g.memo.Cache().Close()
	g.limiter.Close()
}
