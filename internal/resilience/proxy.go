package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/allisson/hookrelay/internal/metrics"
)

// Proxy composes retry-with-backoff and circuit breaking around outbound calls.
type Proxy struct {
	cfg      Config
	registry *Registry
	logger   *slog.Logger
	metrics  metrics.DeliveryMetrics
}

// NewProxy creates a Proxy backed by registry. A nil deliveryMetrics disables attempt metrics.
func NewProxy(
	cfg Config,
	registry *Registry,
	logger *slog.Logger,
	deliveryMetrics metrics.DeliveryMetrics,
) *Proxy {
	if deliveryMetrics == nil {
		deliveryMetrics = metrics.NewNoOpDeliveryMetrics()
	}
	return &Proxy{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		metrics:  deliveryMetrics,
	}
}

// Config returns the proxy configuration.
func (p *Proxy) Config() Config {
	return p.cfg
}

// Registry returns the breaker registry used by the proxy.
func (p *Proxy) Registry() *Registry {
	return p.registry
}

// AttemptFunc observes every attempt, short-circuited ones included. err is nil on success.
type AttemptFunc func(attempt int, err error)

type callOptions struct {
	maxAttempts int
	onAttempt   AttemptFunc
}

// CallOption customizes a single Call.
type CallOption func(*callOptions)

// WithMaxAttempts lowers the attempt budget of a call below Config.MaxRetries.
func WithMaxAttempts(n int) CallOption {
	return func(o *callOptions) {
		o.maxAttempts = n
	}
}

// WithAttemptHook registers fn to observe every attempt.
func WithAttemptHook(fn AttemptFunc) CallOption {
	return func(o *callOptions) {
		o.onAttempt = fn
	}
}

// FallbackFunc produces the result of a call whose circuit is open or whose retries are exhausted.
type FallbackFunc[T any] func(ctx context.Context, err error) (T, error)

// Call runs fn against target. Each attempt gets its own CallTimeout. Transient failures are retried
// with exponential backoff and recorded by the target's breaker; permanent failures and an open circuit
// end the loop at once. When the loop ends in failure, fallback decides the result. A nil fallback
// returns the last error.
func Call[T any](
	ctx context.Context,
	p *Proxy,
	target string,
	fn func(ctx context.Context) (T, error),
	fallback FallbackFunc[T],
	opts ...CallOption,
) (T, error) {
	o := callOptions{maxAttempts: p.cfg.MaxRetries}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxAttempts > p.cfg.MaxRetries {
		o.maxAttempts = p.cfg.MaxRetries
	}
	if o.maxAttempts < 1 {
		o.maxAttempts = 1
	}

	breaker := p.registry.Get(target)
	attempt := 0
	observe := func(err error, outcome string) {
		p.metrics.RecordAttempt(ctx, target, outcome)
		if o.onAttempt != nil {
			o.onAttempt(attempt, err)
		}
	}

	operation := func() (T, error) {
		var zero T
		attempt++

		record, err := breaker.Allow()
		if err != nil {
			observe(err, "short_circuited")
			return zero, backoff.Permanent(err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()

		result, err := fn(attemptCtx)
		switch {
		case err == nil:
			record(OutcomeSuccess)
			observe(nil, "success")
			return result, nil

		case ctx.Err() != nil:
			record(OutcomeIgnored)
			observe(err, "canceled")
			return zero, backoff.Permanent(err)

		case errors.Is(err, ErrNotSent):
			record(OutcomeIgnored)
			observe(err, "not_sent")
			return zero, err

		case IsPermanent(err):
			record(OutcomeIgnored)
			observe(err, "permanent")
			return zero, backoff.Permanent(err)

		default:
			record(OutcomeFailure)
			observe(err, "retryable")
			return zero, err
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(p.newBackOff(), uint64(o.maxAttempts-1)),
		ctx,
	)

	notify := func(err error, next time.Duration) {
		if p.logger != nil {
			p.logger.Debug("retrying call",
				slog.String("target", target),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", next),
				slog.Any("error", err),
			)
		}
	}

	result, err := backoff.RetryNotifyWithData(operation, policy, notify)
	if err == nil {
		return result, nil
	}

	if p.logger != nil && !errors.Is(err, context.Canceled) {
		p.logger.Debug("call failed",
			slog.String("target", target),
			slog.Int("attempts", attempt),
			slog.Any("error", err),
		)
	}

	if fallback == nil {
		var zero T
		return zero, err
	}
	return fallback(ctx, err)
}

// newBackOff builds the BackoffBase × BackoffMultiplier^n schedule capped at BackoffMax, without jitter.
func (p *Proxy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.BackoffBase
	b.Multiplier = p.cfg.BackoffMultiplier
	b.MaxInterval = p.cfg.BackoffMax
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
