// Package resilience wraps outbound calls with retry-with-backoff and per-target circuit breaking.
package resilience

import (
	"time"

	validation "github.com/jellydator/validation"
	"github.com/sony/gobreaker/v2"

	appValidation "github.com/allisson/hookrelay/internal/validation"
)

// Config holds the operator-tunable knobs of the proxy and its circuit breakers.
type Config struct {
	// MaxRetries is the number of attempts a single call may make, the first one included.
	MaxRetries int
	// BackoffBase is the delay before the second attempt.
	BackoffBase time.Duration
	// BackoffMultiplier grows the delay after every failed attempt.
	BackoffMultiplier float64
	// BackoffMax caps the delay between attempts.
	BackoffMax time.Duration
	// FailureRateThreshold is the failure percentage (0-100] that opens a circuit.
	FailureRateThreshold float64
	// Window is how far back a breaker looks when computing the failure rate.
	Window time.Duration
	// WindowBuckets is how many slices the window rolls by. One bucket makes it a fixed window.
	WindowBuckets int
	// MinimumCalls is the number of recorded outcomes needed before the failure rate counts.
	MinimumCalls int
	// OpenStateCooldown is how long an open circuit rejects calls before probing.
	OpenStateCooldown time.Duration
	// HalfOpenMaxCalls is the number of trial calls admitted while half-open.
	HalfOpenMaxCalls int
	// CallTimeout bounds each attempt.
	CallTimeout time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxRetries:           3,
		BackoffBase:          500 * time.Millisecond,
		BackoffMultiplier:    2,
		BackoffMax:           10 * time.Second,
		FailureRateThreshold: 50,
		Window:               time.Minute,
		WindowBuckets:        6,
		MinimumCalls:         10,
		OpenStateCooldown:    30 * time.Second,
		HalfOpenMaxCalls:     3,
		CallTimeout:          10 * time.Second,
	}
}

// Validate checks the configuration for values the breaker and retry loop cannot work with.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.MaxRetries, validation.Required, validation.Min(1)),
		validation.Field(&c.BackoffMultiplier, validation.Required, validation.Min(1.0)),
		validation.Field(&c.FailureRateThreshold, validation.Required, validation.Min(0.01), validation.Max(100.0)),
		validation.Field(&c.Window, validation.Required),
		validation.Field(&c.WindowBuckets, validation.Required, validation.Min(1)),
		validation.Field(&c.MinimumCalls, validation.Min(0)),
		validation.Field(&c.HalfOpenMaxCalls, validation.Required, validation.Min(1)),
		validation.Field(&c.CallTimeout, validation.Required),
	)
	return appValidation.WrapValidationError(err)
}

// minimumCalls is MinimumCalls, at least 1.
func (c Config) minimumCalls() int {
	return max(c.MinimumCalls, 1)
}

func (c Config) bucketPeriod() time.Duration {
	if c.WindowBuckets <= 1 {
		return 0
	}
	return c.Window / time.Duration(c.WindowBuckets)
}

// readyToTrip opens the circuit once the window holds minimumCalls outcomes and the failure rate
// reaches FailureRateThreshold.
func (c Config) readyToTrip(counts gobreaker.Counts) bool {
	if int(counts.TotalSuccesses+counts.TotalFailures) < c.minimumCalls() {
		return false
	}
	return failureRate(counts) >= c.FailureRateThreshold
}
