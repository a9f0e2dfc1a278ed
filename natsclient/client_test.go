package natsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/metric"
)

// unreachable is a URL nothing listens on.
const unreachable = "nats://127.0.0.1:1"

func TestNewClient(t *testing.T) {
	c, err := NewClient(unreachable)
	require.NoError(t, err)
	assert.Equal(t, unreachable, c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Equal(t, time.Second, c.Backoff())
	assert.Equal(t, -1, c.maxReconnects)

	tests := []struct {
		name string
		url  string
		opts []ClientOption
	}{
		{"empty url", "", nil},
		{"zero timeout", unreachable, []ClientOption{WithTimeout(0)}},
		{"zero threshold", unreachable, []ClientOption{WithCircuitBreakerThreshold(0)}},
		{"cert without key", unreachable, []ClientOption{WithTLS("cert.pem", "", "")}},
		{"zero request timeout", unreachable, []ClientOption{WithRequestTimeout(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.url, tt.opts...)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConnectionStatusString(t *testing.T) {
	tests := map[ConnectionStatus]string{
		StatusDisconnected:   "disconnected",
		StatusConnecting:     "connecting",
		StatusConnected:      "connected",
		StatusReconnecting:   "reconnecting",
		StatusCircuitOpen:    "circuit_open",
		ConnectionStatus(42): "unknown",
	}
	for s, want := range tests {
		assert.Equal(t, want, s.String())
	}
}

func TestOperationsNeedConnection(t *testing.T) {
	c, err := NewClient(unreachable)
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, c.Publish(ctx, "a", nil), ErrNotConnected)
	_, err = c.Request(ctx, "a", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe(ctx, "a", func(context.Context, []byte) {}), ErrNotConnected)
	assert.ErrorIs(t, c.Reply(ctx, "a", func(context.Context, []byte) ([]byte, error) { return nil, nil }), ErrNotConnected)
	_, err = c.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, c.GetStatus().RTT)
}

func TestCircuitBreaker(t *testing.T) {
	c, err := NewClient(unreachable,
		WithTimeout(200*time.Millisecond),
		WithMaxReconnects(0),
		WithCircuitBreakerThreshold(2),
	)
	require.NoError(t, err)
	ctx := context.Background()

	err = c.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.EqualValues(t, 1, c.Failures())

	assert.ErrorIs(t, c.Connect(ctx), ErrCircuitOpen, "the second failure opens the circuit")
	assert.Equal(t, StatusCircuitOpen, c.Status())
	assert.Equal(t, 2*time.Second, c.Backoff())
	assert.False(t, c.GetStatus().LastFailureTime.IsZero())

	assert.ErrorIs(t, c.Connect(ctx), ErrCircuitOpen, "open circuits refuse attempts")
	assert.EqualValues(t, 2, c.Failures())

	require.Eventually(t, func() bool { return c.Status() == StatusDisconnected }, 3*time.Second, 10*time.Millisecond,
		"the circuit half opens after the backoff")
}

func TestMaxBackoffCapsGrowth(t *testing.T) {
	c, err := NewClient(unreachable, WithCircuitBreakerThreshold(1), WithMaxBackoff(2*time.Second))
	require.NoError(t, err)
	c.setStatus(StatusCircuitOpen)
	for range 4 {
		c.recordFailure()
	}
	assert.Equal(t, 2*time.Second, c.Backoff())

	c.resetCircuit()
	assert.Equal(t, time.Second, c.Backoff())
	assert.Zero(t, c.Failures())
}

func TestConnectCanceled(t *testing.T) {
	c, err := NewClient(unreachable)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = c.Connect(ctx)
	require.Error(t, err)
	assert.NotEqual(t, StatusConnected, c.Status())
}

func TestCloseIsFinal(t *testing.T) {
	c, err := NewClient(unreachable, WithCredentials("user", "secret"), WithToken("tok"))
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
	assert.Empty(t, c.password)
	assert.Empty(t, c.token)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
}

func TestErrorReply(t *testing.T) {
	var got ErrorReply
	require.NoError(t, json.Unmarshal(errorReply(fmt.Errorf("no such streamlet")), &got))
	assert.Equal(t, "no such streamlet", got.Error)
}

func TestClientMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	c, err := NewClient(unreachable, WithMetrics(registry), WithTimeout(200*time.Millisecond), WithMaxReconnects(0))
	require.NoError(t, err)

	require.Error(t, c.Connect(context.Background()))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.metrics.failures))
	assert.Equal(t, float64(StatusDisconnected), promtest.ToFloat64(c.metrics.status))

	require.Error(t, c.Publish(context.Background(), "a", []byte("x")))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.metrics.published.WithLabelValues("failure")))

	_, err = NewClient(unreachable, WithMetrics(registry))
	assert.Error(t, err, "one client per registry")

	c, err = NewClient(unreachable, WithMetrics(nil))
	require.NoError(t, err)
	assert.Nil(t, c.metrics)
}
