// Package hedge races a primary call against a delayed backup to bound tail
// latency. The loser is abandoned, never cancelled; both calls may keep
// running in the background.
package hedge

import (
	"context"
	"time"

	"github.com/dskow/resilience-core/internal/metrics"
)

// DefaultDelay is how long the primary gets to settle before the backup
// request is launched.
const DefaultDelay = 50 * time.Millisecond

// Call is a hedgeable operation.
type Call func(ctx context.Context) (any, error)

type outcome struct {
	val    any
	err    error
	backup bool
}

// Do starts primary; if it has not settled after delay, backup is started
// too, and whichever settles first wins. A delay <= 0 uses DefaultDelay.
// The losing call's result is discarded.
func Do(ctx context.Context, primary, backup Call, delay time.Duration) (any, error) {
	if delay <= 0 {
		delay = DefaultDelay
	}

	// Buffered so abandoned losers never block on send.
	ch := make(chan outcome, 2)

	go func() {
		v, err := primary(ctx)
		ch <- outcome{val: v, err: err}
	}()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.val, out.err
	case <-timer.C:
	}

	// Primary is slow: launch the backup and take whichever settles first.
	metrics.HedgesFired.Inc()
	go func() {
		v, err := backup(ctx)
		ch <- outcome{val: v, err: err, backup: true}
	}()

	out := <-ch
	if out.backup {
		metrics.HedgeWins.Inc()
	}
	return out.val, out.err
}
