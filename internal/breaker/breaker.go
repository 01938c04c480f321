package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dskow/resilience-core/internal/errclass"
	"github.com/dskow/resilience-core/internal/metrics"
	"github.com/dskow/resilience-core/internal/ratelimit"
	"github.com/dskow/resilience-core/internal/syncx"
)

// ErrOperationTimeout is returned when a protected operation loses the race
// against the operation timeout. The losing operation keeps running in the
// background; the breaker simply stops waiting for it.
var ErrOperationTimeout = errclass.SystemError("operation timed out")

const (
	latencyRingSize = 1000

	// Adaptive threshold tuning: outcomes are sampled over a small rolling
	// window, and no adjustment happens until the window has enough data.
	outcomeWindowSize  = 100
	adaptiveMinSamples = 10

	healthySuccessRate  = 0.95
	degradedSuccessRate = 0.80
)

// CircuitBreaker guards a single downstream dependency. One instance is
// created per dependency at process start and shared by all callers for the
// process lifetime.
type CircuitBreaker struct {
	name   string
	opts   Options
	logger *slog.Logger

	// state is readable without the mutex; all writes happen inside mu.
	state atomic.Int32

	mu          *syncx.Mutex
	probeBucket *ratelimit.TokenBucket

	// Guarded by mu.
	failureCount        int
	failureTimes        []time.Time // rolling mode only
	openedAt            time.Time
	currentOpenInterval time.Duration
	resetBackoff        time.Duration
	halfOpenRequests    int
	halfOpenSuccesses   int
	effectiveThreshold  float64
	latencies           [latencyRingSize]time.Duration
	latencyIdx          int
	latencyCount        int
	outcomes            [outcomeWindowSize]bool
	outcomeIdx          int
	outcomeCount        int

	// Observability counters; lock-free, races are benign.
	totalRequests atomic.Uint64
	successCount  atomic.Uint64
	fallbackCount atomic.Uint64

	listenerMu     sync.Mutex
	stateListeners []func(StateChangeEvent)
	probeListeners []func(ProbeDeniedEvent)
}

// New creates a circuit breaker for the named dependency. Options are
// validated here so bad configuration fails at startup.
func New(name string, opts Options, logger *slog.Logger) (*CircuitBreaker, error) {
	if name == "" {
		return nil, fmt.Errorf("breaker name must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid breaker options for %q: %w", name, err)
	}

	cb := &CircuitBreaker{
		name:               name,
		opts:               opts,
		logger:             logger,
		mu:                 syncx.NewMutex(logger),
		probeBucket:        ratelimit.New(opts.HalfOpenRateLimit.Capacity, opts.HalfOpenRateLimit.RefillPerSecond),
		resetBackoff:       opts.ResetTimeout,
		effectiveThreshold: float64(opts.FailureThreshold),
	}
	cb.state.Store(int32(StateClosed))
	metrics.BreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return cb, nil
}

// Name returns the dependency name this breaker guards.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	return State(cb.state.Load())
}

// OnStateChange registers a listener invoked synchronously on every state
// transition.
func (cb *CircuitBreaker) OnStateChange(fn func(StateChangeEvent)) {
	cb.listenerMu.Lock()
	cb.stateListeners = append(cb.stateListeners, fn)
	cb.listenerMu.Unlock()
}

// OnProbeDenied registers a listener invoked synchronously whenever a
// half-open probe is rejected.
func (cb *CircuitBreaker) OnProbeDenied(fn func(ProbeDeniedEvent)) {
	cb.listenerMu.Lock()
	cb.probeListeners = append(cb.probeListeners, fn)
	cb.listenerMu.Unlock()
}

// Do runs op under the breaker's protection. Whenever the primary path is
// disallowed or fails, the fallback's result is returned instead; a fallback
// error propagates to the caller unchanged (there is no second-level
// fallback). op never runs longer than the operation timeout from the
// caller's perspective.
func (cb *CircuitBreaker) Do(ctx context.Context, op, fallback Operation) (any, error) {
	cb.totalRequests.Add(1)

	if cb.State() == StateOpen {
		cb.maybeHalfOpen()
		if cb.State() == StateOpen {
			cb.fallbackCount.Add(1)
			metrics.Fallbacks.WithLabelValues(cb.name, "open").Inc()
			cb.logger.Debug("circuit open, routing to fallback", "breaker", cb.name)
			return fallback(ctx)
		}
	}

	probe := false
	if cb.State() == StateHalfOpen {
		switch adm := cb.admitProbe(); adm {
		case admitGranted:
			probe = true
		case admitDeniedRate, admitDeniedConcurrency:
			cb.emitProbeDenied(ProbeDeniedEvent{
				RateLimited:        adm == admitDeniedRate,
				ConcurrencyLimited: adm == admitDeniedConcurrency,
				Timestamp:          time.Now(),
			})
			cb.fallbackCount.Add(1)
			metrics.Fallbacks.WithLabelValues(cb.name, "probe_denied").Inc()
			return fallback(ctx)
		case admitBypass:
			// State moved on while we were deciding; treat as a normal call.
		}
	}
	if probe {
		defer cb.probeSettled()
	}

	start := time.Now()
	val, err := cb.execute(ctx, op)
	latency := time.Since(start)
	cb.recordLatency(latency)

	if err == nil {
		cb.successCount.Add(1)
		metrics.OperationDuration.WithLabelValues(cb.name, "success").Observe(latency.Seconds())
		cb.handleSuccess()
		cb.adapt(true)
		return val, nil
	}

	metrics.OperationDuration.WithLabelValues(cb.name, "failure").Observe(latency.Seconds())
	if errclass.Classify(err) == errclass.System {
		cb.handleFailure()
		cb.adapt(false)
	}
	// Logical errors skip the failure machinery entirely but still route to
	// the fallback, exactly like any other error.
	cb.fallbackCount.Add(1)
	metrics.Fallbacks.WithLabelValues(cb.name, "error").Inc()
	return fallback(ctx)
}

// execute races op against the operation timeout. The loser is abandoned,
// not cancelled.
func (cb *CircuitBreaker) execute(ctx context.Context, op Operation) (any, error) {
	type result struct {
		val any
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := op(ctx)
		ch <- result{val: v, err: err}
	}()

	timer := time.NewTimer(cb.opts.OperationTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-timer.C:
		return nil, ErrOperationTimeout
	}
}

// maybeHalfOpen transitions OPEN → HALF_OPEN once the current open interval
// has elapsed.
func (cb *CircuitBreaker) maybeHalfOpen() {
	var ev *StateChangeEvent
	cb.mu.RunExclusive(func() error {
		if State(cb.state.Load()) != StateOpen {
			return nil
		}
		if time.Since(cb.openedAt) > cb.currentOpenInterval {
			ev = cb.transitionLocked(StateHalfOpen, "backoff elapsed")
		}
		return nil
	})
	cb.emit(ev)
}

type admission int

const (
	admitGranted admission = iota
	admitBypass
	admitDeniedRate
	admitDeniedConcurrency
)

// admitProbe decides whether a half-open call may probe the primary. Both
// gates are evaluated synchronously; denial never blocks.
func (cb *CircuitBreaker) admitProbe() admission {
	res := admitBypass
	cb.mu.RunExclusive(func() error {
		if State(cb.state.Load()) != StateHalfOpen {
			return nil
		}
		if !cb.probeBucket.TryConsume() {
			res = admitDeniedRate
			return nil
		}
		if cb.halfOpenRequests >= cb.opts.MaxHalfOpenRequests {
			res = admitDeniedConcurrency
			return nil
		}
		cb.halfOpenRequests++
		res = admitGranted
		return nil
	})
	return res
}

func (cb *CircuitBreaker) probeSettled() {
	cb.mu.RunExclusive(func() error {
		if cb.halfOpenRequests > 0 {
			cb.halfOpenRequests--
		}
		return nil
	})
}

func (cb *CircuitBreaker) handleSuccess() {
	var ev *StateChangeEvent
	cb.mu.RunExclusive(func() error {
		switch State(cb.state.Load()) {
		case StateHalfOpen:
			cb.halfOpenSuccesses++
			if cb.halfOpenSuccesses >= cb.opts.SuccessesToClose {
				cb.resetBackoff = cb.opts.ResetTimeout
				ev = cb.transitionLocked(StateClosed, "recovery probes succeeded")
			}
		case StateClosed:
			if cb.opts.MonitoringPeriod == 0 {
				// Consecutive mode: a success clears the run of failures.
				// Rolling mode decays on its own.
				cb.failureCount = 0
			}
		}
		return nil
	})
	cb.emit(ev)
}

func (cb *CircuitBreaker) handleFailure() {
	var ev *StateChangeEvent
	cb.mu.RunExclusive(func() error {
		now := time.Now()
		if cb.opts.MonitoringPeriod > 0 {
			cb.failureTimes = append(cb.failureTimes, now)
			cb.pruneFailuresLocked(now)
		} else {
			cb.failureCount++
		}

		switch State(cb.state.Load()) {
		case StateHalfOpen:
			// Any probe failure trips straight back to open.
			cb.halfOpenSuccesses = 0
			ev = cb.openLocked(now, "probe failed")
		case StateClosed:
			if float64(cb.failuresLocked()) >= cb.effectiveThreshold {
				ev = cb.openLocked(now, "failure threshold reached")
			}
		}
		return nil
	})
	cb.emit(ev)
}

// pruneFailuresLocked drops failure timestamps older than the monitoring
// period. Must be called with mu held.
func (cb *CircuitBreaker) pruneFailuresLocked(now time.Time) {
	cutoff := now.Add(-cb.opts.MonitoringPeriod)
	i := 0
	for i < len(cb.failureTimes) && cb.failureTimes[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		cb.failureTimes = append(cb.failureTimes[:0], cb.failureTimes[i:]...)
	}
}

// failuresLocked returns the current failure count for the active counting
// mode. Must be called with mu held.
func (cb *CircuitBreaker) failuresLocked() int {
	if cb.opts.MonitoringPeriod > 0 {
		return len(cb.failureTimes)
	}
	return cb.failureCount
}

// openLocked trips the circuit: records openedAt, derives the jittered open
// interval, and doubles the backoff (capped at 32x the base) for the next
// cycle. Must be called with mu held.
func (cb *CircuitBreaker) openLocked(now time.Time, reason string) *StateChangeEvent {
	maxBackoff := cb.opts.ResetTimeout * backoffCapFactor

	jitter := 0.7 + rand.Float64()*0.6
	interval := time.Duration(float64(cb.resetBackoff) * jitter)
	if interval > maxBackoff {
		interval = maxBackoff
	}

	cb.openedAt = now
	cb.currentOpenInterval = interval

	cb.resetBackoff *= 2
	if cb.resetBackoff > maxBackoff {
		cb.resetBackoff = maxBackoff
	}

	return cb.transitionLocked(StateOpen, reason)
}

// transitionLocked changes state and resets the counters owned by the new
// state. Must be called with mu held; the returned event is emitted by the
// caller after the lock is released.
func (cb *CircuitBreaker) transitionLocked(to State, reason string) *StateChangeEvent {
	from := State(cb.state.Load())
	if from == to {
		return nil
	}
	cb.state.Store(int32(to))

	switch to {
	case StateClosed:
		cb.failureCount = 0
		cb.failureTimes = nil
		cb.halfOpenSuccesses = 0
	case StateOpen:
		cb.halfOpenSuccesses = 0
	case StateHalfOpen:
		cb.halfOpenSuccesses = 0
		// Fresh probe budget on every half-open entry.
		cb.probeBucket.Reset()
	}

	return &StateChangeEvent{From: from, To: to, Reason: reason, Timestamp: time.Now()}
}

// emit logs, instruments, and notifies subscribers of a transition. Called
// without mu held so listeners may safely query the breaker.
func (cb *CircuitBreaker) emit(ev *StateChangeEvent) {
	if ev == nil {
		return
	}

	metrics.BreakerState.WithLabelValues(cb.name).Set(float64(ev.To))
	metrics.BreakerTransitions.WithLabelValues(cb.name, ev.From.String(), ev.To.String()).Inc()

	cb.logger.Info("circuit breaker state change",
		"breaker", cb.name,
		"from", ev.From.String(),
		"to", ev.To.String(),
		"reason", ev.Reason,
	)

	cb.listenerMu.Lock()
	listeners := make([]func(StateChangeEvent), len(cb.stateListeners))
	copy(listeners, cb.stateListeners)
	cb.listenerMu.Unlock()

	for _, fn := range listeners {
		fn(*ev)
	}
}

func (cb *CircuitBreaker) emitProbeDenied(ev ProbeDeniedEvent) {
	metrics.ProbeDenials.WithLabelValues(cb.name, ev.gate()).Inc()
	cb.logger.Debug("half-open probe denied",
		"breaker", cb.name,
		"rate_limited", ev.RateLimited,
		"concurrency_limited", ev.ConcurrencyLimited,
	)

	cb.listenerMu.Lock()
	listeners := make([]func(ProbeDeniedEvent), len(cb.probeListeners))
	copy(listeners, cb.probeListeners)
	cb.listenerMu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

func (cb *CircuitBreaker) recordLatency(d time.Duration) {
	cb.mu.RunExclusive(func() error {
		cb.latencies[cb.latencyIdx] = d
		cb.latencyIdx = (cb.latencyIdx + 1) % latencyRingSize
		if cb.latencyCount < latencyRingSize {
			cb.latencyCount++
		}
		return nil
	})
}

// adapt nudges the effective failure threshold based on the rolling success
// rate: above 95% the breaker tolerates more noise (threshold toward Max);
// below 80% it trips sooner (threshold toward Min).
func (cb *CircuitBreaker) adapt(success bool) {
	if !cb.opts.Adaptive.Enabled {
		return
	}
	cb.mu.RunExclusive(func() error {
		cb.outcomes[cb.outcomeIdx] = success
		cb.outcomeIdx = (cb.outcomeIdx + 1) % outcomeWindowSize
		if cb.outcomeCount < outcomeWindowSize {
			cb.outcomeCount++
		}
		if cb.outcomeCount < adaptiveMinSamples {
			return nil
		}

		successes := 0
		for i := 0; i < cb.outcomeCount; i++ {
			if cb.outcomes[i] {
				successes++
			}
		}
		rate := float64(successes) / float64(cb.outcomeCount)

		a := cb.opts.Adaptive
		switch {
		case rate > healthySuccessRate:
			cb.effectiveThreshold = math.Min(cb.effectiveThreshold+a.Rate, a.Max)
		case rate < degradedSuccessRate:
			cb.effectiveThreshold = math.Max(cb.effectiveThreshold-a.Rate, a.Min)
		}
		return nil
	})
}

// Metrics is a point-in-time snapshot of the breaker's accumulators.
// Forwarding these to a time-series backend is the caller's concern.
type Metrics struct {
	State              State
	TotalRequests      uint64
	SuccessCount       uint64
	FallbackCount      uint64
	SuccessRate        float64
	EffectiveThreshold float64
	CurrentBackoff     time.Duration
	AvgLatency         time.Duration
	IsHealthy          bool
}

// Metrics returns a snapshot of the breaker's state and counters.
func (cb *CircuitBreaker) Metrics() Metrics {
	m := Metrics{
		State:         cb.State(),
		TotalRequests: cb.totalRequests.Load(),
		SuccessCount:  cb.successCount.Load(),
		FallbackCount: cb.fallbackCount.Load(),
	}

	cb.mu.RunExclusive(func() error {
		m.EffectiveThreshold = cb.effectiveThreshold
		m.CurrentBackoff = cb.resetBackoff
		if cb.latencyCount > 0 {
			var sum time.Duration
			for i := 0; i < cb.latencyCount; i++ {
				sum += cb.latencies[i]
			}
			m.AvgLatency = sum / time.Duration(cb.latencyCount)
		}
		return nil
	})

	if m.TotalRequests > 0 {
		m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalRequests)
	}
	m.IsHealthy = m.State != StateOpen
	return m
}
