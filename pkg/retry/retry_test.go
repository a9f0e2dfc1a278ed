package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avflow/errors"
)

func fast(attempts int) Policy {
	return Policy{
		Attempts:   attempts,
		Initial:    time.Millisecond,
		Max:        5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(3), func(attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if attempt < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoGivesUp(t *testing.T) {
	calls := 0
	cause := errors.New("connection refused")
	err := Do(context.Background(), fast(3), func(int) error {
		calls++
		return cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"marked permanent", Permanent(errors.New("no such file"))},
		{"invalid", errors.WrapInvalid(errors.ErrValueInvalid, "mp4", "open", "parse url")},
		{"fatal", errors.WrapFatal(errors.ErrMissingConfig, "mp4", "open", "read options")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), fast(5), func(int) error {
				calls++
				return tt.err
			})
			require.Error(t, err)
			assert.Equal(t, 1, calls)
			assert.True(t, IsPermanent(err))
		})
	}
}

func TestDoCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 5, Initial: time.Second, Max: time.Second}
	p.Notify = func(int, error, time.Duration) { cancel() }

	calls := 0
	err := Do(ctx, p, func(int) error {
		calls++
		return errors.New("busy")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoRejectsBadPolicy(t *testing.T) {
	tests := []Policy{
		{Initial: -1},
		{Max: -1},
		{Multiplier: -1},
		{Initial: time.Second, Max: time.Millisecond},
	}
	for _, p := range tests {
		err := Do(context.Background(), p, func(int) error { return nil })
		assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	}
}

func TestNotifyBacksOff(t *testing.T) {
	var waits []time.Duration
	p := fast(4)
	p.Notify = func(_ int, _ error, wait time.Duration) { waits = append(waits, wait) }

	_ = Do(context.Background(), p, func(int) error { return errors.New("busy") })
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, waits)
}

func TestReconnect(t *testing.T) {
	assert.Equal(t, 1, Reconnect(0).Attempts)
	assert.Equal(t, 1, Reconnect(-3).Attempts)
	assert.Equal(t, 4, Reconnect(3).Attempts)
}

func TestValue(t *testing.T) {
	v, err := Value(context.Background(), fast(2), func(attempt int) (string, error) {
		if attempt == 1 {
			return "", errors.New("busy")
		}
		return "opened", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "opened", v)
}
