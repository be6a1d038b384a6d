package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

func stateOf(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Outcome classifies a finished call for the breaker.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	// OutcomeIgnored releases a half-open trial slot without counting toward the failure rate.
	OutcomeIgnored
)

var (
	errOutcomeFailure = errors.New("call failed")
	errOutcomeIgnored = errors.New("call ignored")
)

func (o Outcome) err() error {
	switch o {
	case OutcomeFailure:
		return errOutcomeFailure
	case OutcomeIgnored:
		return errOutcomeIgnored
	default:
		return nil
	}
}

// RecordFunc reports the outcome of a call admitted by Allow. Only the first report counts.
type RecordFunc func(Outcome)

// TransitionFunc observes breaker state changes. It runs with the breaker lock held and must not call back
// into the breaker.
type TransitionFunc func(target string, from, to State)

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Target      string
	State       State
	Calls       int
	Failures    int
	FailureRate float64
	OpenedAt    time.Time
}

// CircuitBreaker guards one target with a gobreaker two-step breaker over a time-based rolling window.
type CircuitBreaker struct {
	target       string
	cfg          Config
	onTransition TransitionFunc

	mu         sync.RWMutex
	cb         *gobreaker.TwoStepCircuitBreaker[struct{}]
	generation uint64
	openedAt   time.Time
	// tripCounts are the window counts that last opened the circuit.
	tripCounts gobreaker.Counts
}

func newCircuitBreaker(target string, cfg Config, onTransition TransitionFunc) *CircuitBreaker {
	b := &CircuitBreaker{
		target:       target,
		cfg:          cfg,
		onTransition: onTransition,
	}
	b.cb = gobreaker.NewTwoStepCircuitBreaker[struct{}](b.settings(0))
	return b
}

func (b *CircuitBreaker) settings(generation uint64) gobreaker.Settings {
	return gobreaker.Settings{
		Name:         b.target,
		MaxRequests:  uint32(max(b.cfg.HalfOpenMaxCalls, 1)),
		Interval:     b.cfg.Window,
		BucketPeriod: b.cfg.bucketPeriod(),
		Timeout:      b.cfg.OpenStateCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if !b.cfg.readyToTrip(counts) {
				return false
			}
			b.mu.Lock()
			if generation == b.generation {
				b.tripCounts = counts
			}
			b.mu.Unlock()
			return true
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, errOutcomeIgnored)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.stateChanged(generation, stateOf(from), stateOf(to))
		},
	}
}

// stateChanged runs inside gobreaker with its lock held. Late outcomes can still move a breaker
// discarded by Reset; those changes are dropped.
func (b *CircuitBreaker) stateChanged(generation uint64, from, to State) {
	b.mu.Lock()
	if generation != b.generation {
		b.mu.Unlock()
		return
	}
	switch to {
	case StateOpen:
		b.openedAt = time.Now()
	case StateClosed:
		b.openedAt = time.Time{}
	}
	b.mu.Unlock()

	if b.onTransition != nil {
		b.onTransition(b.target, from, to)
	}
}

func (b *CircuitBreaker) current() *gobreaker.TwoStepCircuitBreaker[struct{}] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cb
}

// Target returns the identity this breaker guards.
func (b *CircuitBreaker) Target() string {
	return b.target
}

// Allow reserves permission for one call and returns the function that records its outcome. It returns
// ErrCircuitOpen while the circuit is open or when every half-open trial slot is taken.
func (b *CircuitBreaker) Allow() (RecordFunc, error) {
	done, err := b.current().Allow()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	var once sync.Once
	return func(outcome Outcome) {
		once.Do(func() {
			done(outcome.err())
		})
	}, nil
}

// State returns the current state, moving OPEN to HALF_OPEN when the cooldown has elapsed.
func (b *CircuitBreaker) State() State {
	return stateOf(b.current().State())
}

// Snapshot returns the breaker's counters for the current window. An open breaker reports the counts
// that opened it.
func (b *CircuitBreaker) Snapshot() Snapshot {
	cb := b.current()
	state := stateOf(cb.State())
	counts := cb.Counts()

	b.mu.RLock()
	openedAt := b.openedAt
	if state == StateOpen {
		counts = b.tripCounts
	}
	b.mu.RUnlock()

	return Snapshot{
		Target:      b.target,
		State:       state,
		Calls:       int(counts.TotalSuccesses + counts.TotalFailures),
		Failures:    int(counts.TotalFailures),
		FailureRate: failureRate(counts),
		OpenedAt:    openedAt,
	}
}

// Reset replaces the breaker with a fresh CLOSED one. Outcomes of calls admitted before the reset are
// recorded against the discarded breaker.
func (b *CircuitBreaker) Reset() {
	from := b.State()

	b.mu.Lock()
	b.generation++
	b.cb = gobreaker.NewTwoStepCircuitBreaker[struct{}](b.settings(b.generation))
	b.openedAt = time.Time{}
	b.tripCounts = gobreaker.Counts{}
	b.mu.Unlock()

	if from != StateClosed && b.onTransition != nil {
		b.onTransition(b.target, from, StateClosed)
	}
}

func failureRate(counts gobreaker.Counts) float64 {
	completed := counts.TotalSuccesses + counts.TotalFailures
	if completed == 0 {
		return 0
	}
	return float64(counts.TotalFailures) * 100 / float64(completed)
}
