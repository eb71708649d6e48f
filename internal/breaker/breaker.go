// Package breaker implements the circuit breaker that gates normal-priority
// flush attempts against a failing backend.
package breaker // import "github.com/durastream/telemex/internal/breaker"

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the circuit state.
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
		return "half-open"
	}
	return "unknown"
}

// Settings configures a Breaker.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in half-open
	// state required to close the circuit again.
	SuccessThreshold int
	// ResetTimeout is how long the circuit stays open before a single trial
	// request is admitted.
	ResetTimeout time.Duration
	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
	// Logger logs state transitions. Defaults to zap.NewNop().
	Logger *zap.Logger
}

// Breaker is a closed/open/half-open state machine. Critical flushes bypass it
// entirely; only normal-priority attempts consult CanExecute.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time

	failureThreshold int
	successThreshold int
	resetTimeout     time.Duration
	now              func() time.Time
	logger           *zap.Logger
}

// New creates a Breaker in the closed state.
func New(set Settings) *Breaker {
	if set.Now == nil {
		set.Now = time.Now
	}
	if set.Logger == nil {
		set.Logger = zap.NewNop()
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: set.FailureThreshold,
		successThreshold: set.SuccessThreshold,
		resetTimeout:     set.ResetTimeout,
		now:              set.Now,
		logger:           set.Logger,
	}
}

// CanExecute reports whether a normal-priority attempt is admitted. When the
// circuit is open and the reset timeout has elapsed it transitions to
// half-open and admits exactly one trial; further attempts are rejected until
// recorded successes close the circuit.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.resetTimeout {
			b.setState(StateHalfOpen)
			return true
		}
		return false
	default: // half-open: the single trial has already been admitted
		return false
	}
}

// RecordSuccess notes a successful backend operation. In half-open state it
// counts toward closing the circuit; in closed state it resets the failure
// counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.failureCount = 0
			b.successCount = 0
			b.setState(StateClosed)
		}
	case StateClosed:
		b.failureCount = 0
	}
}

// RecordFailure notes a failed backend operation. Any failure in half-open
// state reopens the circuit; in closed state the circuit opens once the
// failure threshold is crossed.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = b.now()
	b.failureCount++
	b.successCount = 0
	switch b.state {
	case StateHalfOpen:
		b.setState(StateOpen)
	case StateClosed:
		if b.failureCount >= b.failureThreshold {
			b.setState(StateOpen)
		}
	}
}

// Reset forces the circuit closed and zeroes both counters. Used during
// shutdown so the final flush is attempted regardless of prior state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.successCount = 0
	if b.state != StateClosed {
		b.setState(StateClosed)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// setState must be called with b.mu held.
func (b *Breaker) setState(next State) {
	prev := b.state
	b.state = next
	b.logger.Info("circuit breaker state change",
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
		zap.Int("consecutive_failures", b.failureCount))
}
