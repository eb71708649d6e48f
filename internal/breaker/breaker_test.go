package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T, clock *fakeClock) *Breaker {
	return New(Settings{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		Now:              clock.now,
		Logger:           zaptest.NewLogger(t),
	})
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := newTestBreaker(t, clock)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.CanExecute())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())
}

func TestSuccessResetsFailureCountWhileClosed(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := newTestBreaker(t, clock)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenAdmitsSingleTrial(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := newTestBreaker(t, clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	assert.False(t, b.CanExecute())

	clock.advance(30 * time.Second)
	assert.True(t, b.CanExecute())
	assert.Equal(t, StateHalfOpen, b.State())
	// The single trial has been admitted; no more until successes accrue.
	assert.False(t, b.CanExecute())
}

func TestHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := newTestBreaker(t, clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock.advance(31 * time.Second)
	assert.True(t, b.CanExecute())

	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.FailureCount())
	assert.True(t, b.CanExecute())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := newTestBreaker(t, clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock.advance(31 * time.Second)
	assert.True(t, b.CanExecute())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())

	// The reset window restarts from the half-open failure.
	clock.advance(29 * time.Second)
	assert.False(t, b.CanExecute())
	clock.advance(2 * time.Second)
	assert.True(t, b.CanExecute())
}

func TestResetForcesClosed(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := newTestBreaker(t, clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.FailureCount())
	assert.True(t, b.CanExecute())
}
