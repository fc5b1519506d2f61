package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	boom := errors.New("boom")
	fail := func(ctx context.Context) error { return boom }

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), fail), boom)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	// Calls short-circuit without reaching fn.
	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	boom := errors.New("boom")

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })

	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	now := time.Now()
	cb.nowFunc = func() time.Time { return now }

	boom := errors.New("boom")
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	assert.Equal(t, CircuitOpen, cb.State())

	// Before the reset timeout, rejected.
	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	// After the timeout a probe goes through; success closes the circuit.
	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	now := time.Now()
	cb.nowFunc = func() time.Time { return now }

	boom := errors.New("boom")
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })

	now = now.Add(2 * time.Minute)
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	cb.Reset()

	assert.Equal(t, []string{"closed->open", "open->closed"}, transitions)
}

func TestExecuteVal(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	v, err := ExecuteVal(context.Background(), cb, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	_, _ = ExecuteVal(context.Background(), cb, func(ctx context.Context) (string, error) {
		return "", errors.New("boom")
	})
	_, err = ExecuteVal(context.Background(), cb, func(ctx context.Context) (string, error) {
		return "unreached", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
