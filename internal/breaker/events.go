package breaker

import "time"

// StateChangeEvent describes one state transition. Events are delivered
// synchronously to subscribers and never persisted.
type StateChangeEvent struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// ProbeDeniedEvent is emitted when a half-open probe is rejected by one of
// the admission gates. Denial is a routing decision, not a failure: it never
// feeds the failure counter.
type ProbeDeniedEvent struct {
	RateLimited        bool
	ConcurrencyLimited bool
	Timestamp          time.Time
}

// gate returns the metrics label for the denying gate.
func (e ProbeDeniedEvent) gate() string {
	if e.RateLimited {
		return "rate_limit"
	}
	return "concurrency"
}
