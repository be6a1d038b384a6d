package resilience

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Registry owns the process-wide circuit breakers, one per target, created on first use.
type Registry struct {
	cfg          Config
	logger       *slog.Logger
	onTransition TransitionFunc
	breakers     sync.Map // target -> *CircuitBreaker
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithTransitionHook registers a function called on every breaker state change.
func WithTransitionHook(fn TransitionFunc) RegistryOption {
	return func(r *Registry) {
		r.onTransition = fn
	}
}

// NewRegistry creates an empty registry whose breakers share cfg.
func NewRegistry(cfg Config, logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for target, creating it if needed.
func (r *Registry) Get(target string) *CircuitBreaker {
	if b, ok := r.breakers.Load(target); ok {
		return b.(*CircuitBreaker)
	}
	b, _ := r.breakers.LoadOrStore(target, newCircuitBreaker(target, r.cfg, r.transitioned))
	return b.(*CircuitBreaker)
}

// Reset closes the breaker for target. It reports false when no breaker exists for target.
func (r *Registry) Reset(target string) bool {
	b, ok := r.breakers.Load(target)
	if !ok {
		return false
	}
	b.(*CircuitBreaker).Reset()
	return true
}

// ResetAll closes every breaker and returns how many were reset.
func (r *Registry) ResetAll() int {
	count := 0
	r.breakers.Range(func(_, value any) bool {
		value.(*CircuitBreaker).Reset()
		count++
		return true
	})
	return count
}

// Snapshot returns the state of every breaker ordered by target.
func (r *Registry) Snapshot() []Snapshot {
	snapshots := make([]Snapshot, 0)
	r.breakers.Range(func(_, value any) bool {
		snapshots = append(snapshots, value.(*CircuitBreaker).Snapshot())
		return true
	})
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Target < snapshots[j].Target
	})
	return snapshots
}

func (r *Registry) transitioned(target string, from, to State) {
	if r.logger != nil {
		level := slog.LevelInfo
		if to == StateOpen {
			level = slog.LevelWarn
		}
		r.logger.Log(context.Background(), level, "circuit breaker state changed",
			slog.String("target", target),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	}
	if r.onTransition != nil {
		r.onTransition(target, from, to)
	}
}
