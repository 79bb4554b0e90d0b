package resilience

import (
	"sync"
	"time"
)

// DefaultMinDelay is the default minimum spacing between throttled calls.
const DefaultMinDelay = 500 * time.Millisecond

// Throttle enforces a minimum delay between calls. The timestamp is shared
// across every call site that consults the same Throttle, whatever operation
// each is pacing; this is a deliberately coarse process-wide gate.
type Throttle struct {
	mu          sync.Mutex
	lastRequest time.Time

	now func() time.Time // for unit testing
}

// NewThrottle returns a Throttle that has never seen a request.
func NewThrottle() *Throttle {
	return &Throttle{now: time.Now}
}

// Allow reports whether enough time has passed since the last allowed call.
// When denied, retryAfter holds the remaining wait and the shared timestamp
// is left untouched so the denied caller does not push everyone else back.
func (t *Throttle) Allow(minDelay time.Duration) (ok bool, retryAfter time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	elapsed := now.Sub(t.lastRequest)
	if elapsed < minDelay {
		return false, minDelay - elapsed
	}
	t.lastRequest = now
	return true, 0
}

// ThrottleStats is a snapshot of the throttle state.
type ThrottleStats struct {
	LastRequest time.Time `json:"last_request"`
}

// Stats returns current statistics
func (t *Throttle) Stats() ThrottleStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ThrottleStats{LastRequest: t.lastRequest}
}
