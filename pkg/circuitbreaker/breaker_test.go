package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream failure")

func fail(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Execute(context.Background(), func() error { return errUpstream })
	}
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{FailureThreshold: 3, Timeout: time.Minute})
	ctx := context.Background()

	fail(cb, 2)
	assert.Equal(t, StateClosed, cb.State())

	fail(cb, 1)
	assert.Equal(t, StateOpen, cb.State())

	t.Run("open breaker fails fast", func(t *testing.T) {
		called := false
		err := cb.Execute(ctx, func() error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.False(t, called)
	})
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{FailureThreshold: 3, Timeout: time.Minute})
	ctx := context.Background()

	fail(cb, 2)
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	fail(cb, 2)

	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{
		MaxRequests:      2,
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          20 * time.Millisecond,
	})
	ctx := context.Background()

	fail(cb, 1)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))

	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{
		FailureThreshold: 1,
		Timeout:          20 * time.Millisecond,
	})

	fail(cb, 1)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	fail(cb, 1)
	assert.Equal(t, StateOpen, cb.State())
}

func TestHalfOpenLimitsProbes(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{
		MaxRequests:      1,
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          20 * time.Millisecond,
	})
	ctx := context.Background()

	fail(cb, 1)
	time.Sleep(30 * time.Millisecond)

	// First probe succeeds but the breaker needs two; a concurrent probe
	// beyond MaxRequests in the same window is rejected.
	block := make(chan struct{})
	go cb.Execute(ctx, func() error {
		<-block
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	err := cb.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, ErrTooManyRequests)
	close(block)
}

func TestCancelledContext(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Execute(ctx, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestOnStateChange(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker("claude", Config{
		FailureThreshold: 1,
		Timeout:          time.Minute,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	fail(cb, 1)
	require.Equal(t, []string{"claude:closed->open"}, transitions)
}

func TestPanicCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{FailureThreshold: 1, Timeout: time.Minute})

	assert.Panics(t, func() {
		cb.Execute(context.Background(), func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, cb.State())
}
