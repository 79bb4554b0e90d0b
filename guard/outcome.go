package guard

import (
	"github.com/cockroachdb/errors"
)

// DenyKind identifies which gate refused a protected call.
type DenyKind int

const (
	// DenyThrottled means the call arrived inside the minimum inter-call delay.
	DenyThrottled DenyKind = iota
	// DenyCircuitOpen means the protected dependency is considered unhealthy.
	DenyCircuitOpen
	// DenyRateLimitedGlobal means the process-wide token bucket is exhausted.
	DenyRateLimitedGlobal
	// DenyRateLimitedClient means the caller's own token bucket is exhausted.
	DenyRateLimitedClient
)

func (k DenyKind) String() string {
	switch k {
	case DenyThrottled:
		return "throttled"
	case DenyCircuitOpen:
		return "circuit_open"
	case DenyRateLimitedGlobal:
		return "rate_limited_global"
	case DenyRateLimitedClient:
		return "rate_limited_client"
	default:
		return "unknown"
	}
}

// OutcomeKind distinguishes the three results of a protected call.
type OutcomeKind int

const (
	// KindResult means the work ran (or was served from cache) and produced Value.
	KindResult OutcomeKind = iota
	// KindDenied means a gate refused the call before the work ran.
	KindDenied
	// KindFailed means the work itself failed; Err holds the cause.
	KindFailed
)

// Outcome is the structured result of Guard.Do. Exactly one of the three
// kinds applies; denials are never errors and work failures are never
// denials.
type Outcome struct {
	Kind OutcomeKind
	// Value holds the result when Kind is KindResult.
	Value any
	// Cached reports whether Value came from the result cache.
	Cached bool
	// Deny and RetryAfterSeconds are set when Kind is KindDenied.
	Deny              DenyKind
	RetryAfterSeconds float64
	// Err is set when Kind is KindFailed.
	Err error
}

func resultOutcome(value any, cached bool) Outcome {
	return Outcome{Kind: KindResult, Value: value, Cached: cached}
}

func deniedOutcome(kind DenyKind, retryAfterSeconds float64) Outcome {
	return Outcome{Kind: KindDenied, Deny: kind, RetryAfterSeconds: retryAfterSeconds}
}

func failedOutcome(err error) Outcome {
	return Outcome{Kind: KindFailed, Err: err}
}

var errTerminal = errors.New("terminal failure")

// Terminal marks err as a terminal failure: the upstream answered but the
// answer is final (e.g. not found), so retrying is pointless and the failure
// is not held against the circuit breaker.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errTerminal)
}

// IsTerminal reports whether err carries the Terminal mark.
func IsTerminal(err error) bool {
	return errors.Is(err, errTerminal)
}
