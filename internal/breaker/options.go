package breaker

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Defaults applied by Options.withDefaults.
const (
	DefaultOperationTimeout    = 5 * time.Second
	DefaultSuccessesToClose    = 2
	DefaultMaxHalfOpenRequests = 3

	// backoffCapFactor caps both the open interval and the doubling backoff
	// at this multiple of the base reset timeout.
	backoffCapFactor = 32
)

// RateLimitOptions configures the token bucket gating half-open probes.
type RateLimitOptions struct {
	Capacity        int
	RefillPerSecond float64
}

// AdaptiveOptions configures the adaptive failure threshold. When enabled,
// the effective threshold drifts toward Max while the dependency is healthy
// and toward Min while it is clearly degraded.
type AdaptiveOptions struct {
	Enabled bool
	Min     float64
	Max     float64
	Rate    float64
}

// Options is the immutable breaker configuration, validated at construction.
type Options struct {
	// FailureThreshold is the number of system failures that trips the
	// circuit. Must be > 0.
	FailureThreshold int

	// ResetTimeout is the base backoff before an open circuit admits a
	// recovery probe. Doubles on each open entry, capped at 32x.
	ResetTimeout time.Duration

	// OperationTimeout bounds a single protected call. Default 5s.
	OperationTimeout time.Duration

	// MonitoringPeriod, when set, switches failure counting from a simple
	// consecutive counter to a rolling window of failure timestamps.
	MonitoringPeriod time.Duration

	// SuccessesToClose is how many consecutive half-open probe successes
	// close the circuit. Default 2.
	SuccessesToClose int

	// MaxHalfOpenRequests caps concurrent in-flight probes. Default 3.
	MaxHalfOpenRequests int

	// HalfOpenRateLimit paces probe admission. Defaults to the probe
	// concurrency cap refilled at one token per second.
	HalfOpenRateLimit RateLimitOptions

	// Adaptive enables runtime adjustment of the effective threshold.
	Adaptive AdaptiveOptions
}

// withDefaults returns a copy of o with documented defaults filled in.
func (o Options) withDefaults() Options {
	if o.OperationTimeout == 0 {
		o.OperationTimeout = DefaultOperationTimeout
	}
	if o.SuccessesToClose == 0 {
		o.SuccessesToClose = DefaultSuccessesToClose
	}
	if o.MaxHalfOpenRequests == 0 {
		o.MaxHalfOpenRequests = DefaultMaxHalfOpenRequests
	}
	if o.HalfOpenRateLimit.Capacity == 0 {
		o.HalfOpenRateLimit.Capacity = o.MaxHalfOpenRequests
	}
	if o.HalfOpenRateLimit.RefillPerSecond == 0 {
		o.HalfOpenRateLimit.RefillPerSecond = 1
	}
	if o.Adaptive.Enabled {
		if o.Adaptive.Min == 0 {
			o.Adaptive.Min = 1
		}
		if o.Adaptive.Max == 0 {
			o.Adaptive.Max = float64(o.FailureThreshold) * 2
		}
		if o.Adaptive.Rate == 0 {
			o.Adaptive.Rate = 0.5
		}
	}
	return o
}

// Validate rejects out-of-range options. Called at construction so bad
// configuration fails at startup, not at call time.
func (o Options) Validate() error {
	err := validation.ValidateStruct(&o,
		validation.Field(&o.FailureThreshold, validation.Required, validation.Min(1)),
		validation.Field(&o.ResetTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&o.OperationTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&o.MonitoringPeriod, validation.Min(time.Duration(0))),
		validation.Field(&o.SuccessesToClose, validation.Required, validation.Min(1)),
		validation.Field(&o.MaxHalfOpenRequests, validation.Required, validation.Min(1)),
	)
	if err != nil {
		return err
	}

	if err := validation.ValidateStruct(&o.HalfOpenRateLimit,
		validation.Field(&o.HalfOpenRateLimit.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&o.HalfOpenRateLimit.RefillPerSecond, validation.Required, validation.Min(0.0)),
	); err != nil {
		return err
	}

	if o.Adaptive.Enabled {
		return validation.ValidateStruct(&o.Adaptive,
			validation.Field(&o.Adaptive.Min, validation.Required, validation.Min(1.0)),
			validation.Field(&o.Adaptive.Max, validation.Required, validation.Min(o.Adaptive.Min)),
			validation.Field(&o.Adaptive.Rate, validation.Required, validation.Min(0.0)),
		)
	}
	return nil
}
