package resilience

import (
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrOpen is returned by Protect while the breaker is refusing calls.
var ErrOpen = errors.New("circuit breaker is open")

// BreakerConfig defines configuration for the circuit breaker
type BreakerConfig struct {
	// FailureThreshold is the number of failures within FailureWindow that opens the breaker
	FailureThreshold int

	// FailureWindow is the sliding window in which failures are counted;
	// a failure older than the window resets the count
	FailureWindow time.Duration

	// Cooldown is how long the breaker stays open before closing again
	Cooldown time.Duration
}

// DefaultBreakerConfig returns a default configuration
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 10,
		FailureWindow:    60 * time.Second,
		Cooldown:         300 * time.Second,
	}
}

// Breaker is a failure-counting circuit breaker. It opens once
// FailureThreshold failures land inside FailureWindow and closes again,
// without a half-open trial, once Cooldown has elapsed.
type Breaker struct {
	cfg BreakerConfig

	mu              sync.Mutex
	failureCount    int
	lastFailureTime time.Time
	open            bool
	openedAt        time.Time

	now func() time.Time // for unit testing
}

// NewBreaker creates a closed breaker with the given configuration.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, now: time.Now}
}

// ShortCircuit reports whether a call should be refused right now. An open
// breaker whose cooldown has elapsed transitions back to closed here, with
// the failure count reset. A closed breaker whose last failure is older
// than the window forgets its stale failures.
func (b *Breaker) ShortCircuit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if b.open {
		if now.Sub(b.openedAt) > b.cfg.Cooldown {
			b.open = false
			b.failureCount = 0
			return false
		}
		return true
	}
	if !b.lastFailureTime.IsZero() && now.Sub(b.lastFailureTime) > b.cfg.FailureWindow {
		b.failureCount = 0
	}
	return false
}

// RecordFailure counts one failure against the breaker, opening it when the
// threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.failureCount++
	b.lastFailureTime = now
	if b.failureCount >= b.cfg.FailureThreshold {
		b.open = true
		b.openedAt = now
	}
}

// RetryAfter returns the whole seconds until the cooldown elapses, with a
// floor of one second. It is only meaningful while the breaker is open.
func (b *Breaker) RetryAfter() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return 0
	}
	remaining := b.cfg.Cooldown - b.now().Sub(b.openedAt)
	return int(math.Max(1, math.Ceil(remaining.Seconds())))
}

// Protect runs fn unless the breaker is open. A failing fn is counted
// against the breaker and its error propagated unchanged; success does not
// reset the failure count.
func (b *Breaker) Protect(fn func() error) error {
	if b.ShortCircuit() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	return nil
}

// BreakerStats is a snapshot of the breaker state.
type BreakerStats struct {
	Open            bool      `json:"open"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time"`
	OpenedAt        time.Time `json:"opened_at"`
}

// Stats returns current statistics
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		Open:            b.open,
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
		OpenedAt:        b.openedAt,
	}
}
