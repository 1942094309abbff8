package resilience

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed passes calls through; failures accumulate.
	StateClosed State = iota

	// StateHalfOpen allows exactly one probe call.
	StateHalfOpen

	// StateOpen rejects calls without invocation.
	StateOpen
)

// String returns the state name used in logs, metrics, and events.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerStatus is a point-in-time snapshot of one breaker.
type BreakerStatus struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
}

// TransitionFunc observes breaker state changes.
type TransitionFunc func(name string, from, to State)

// Breaker is a per-dependency circuit breaker. One instance guards one
// named external dependency; instances are never shared across processes.
type Breaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time

	onTransition TransitionFunc
	now          func() time.Time
}

// NewBreaker creates a closed breaker for the named dependency.
func NewBreaker(name string, failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateClosed,
		now:              time.Now,
	}
}

// OnTransition registers a state-change observer. Must be called before
// the breaker is in use.
func (b *Breaker) OnTransition(fn TransitionFunc) {
	b.onTransition = fn
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// CanExecute reports whether a call may proceed. In Open state, the check
// itself transitions to HalfOpen once the recovery timeout has elapsed.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.recoveryTimeout {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess feeds a successful call into the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.transition(StateClosed)
		b.failureCount = 0
		return
	}
	b.successCount++
}

// RecordFailure feeds a failed call into the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		// Probe failed.
		b.lastFailure = b.now()
		b.transition(StateOpen)
		return
	}

	b.failureCount++
	if b.failureCount >= b.failureThreshold && b.state == StateClosed {
		b.lastFailure = b.now()
		b.transition(StateOpen)
	}
}

// Status returns a snapshot of the breaker.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerStatus{
		Name:         b.name,
		State:        b.state.String(),
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
		LastFailure:  b.lastFailure,
	}
}

// transition changes state and notifies the observer. Caller holds b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onTransition != nil {
		b.onTransition(b.name, from, to)
	}
}
