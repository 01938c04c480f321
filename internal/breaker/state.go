// Package breaker implements the circuit breaker protecting calls to
// unreliable downstream dependencies, plus the process-wide registry that
// exposes aggregate breaker health.
package breaker

import "context"

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; calls reach the primary.
	StateOpen                  // Failing; calls are routed to the fallback immediately.
	StateHalfOpen              // Probing; limited calls test whether the dependency recovered.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Operation is a protected call. The breaker never retries an Operation and
// never cancels one that loses the timeout race; a loser is merely abandoned.
type Operation func(ctx context.Context) (any, error)
