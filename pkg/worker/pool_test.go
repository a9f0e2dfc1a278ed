package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/c360/avflow/errors"
	"github.com/c360/avflow/metric"
)

type testWork struct {
	id    int
	delay time.Duration
	fail  bool
	panic bool
}

func process(ctx context.Context, w testWork) error {
	if w.panic {
		panic("boom")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(w.delay):
	}
	if w.fail {
		return errors.New("failed")
	}
	return nil
}

func TestNewPool(t *testing.T) {
	pool, err := NewPool(5, 100, process)
	require.NoError(t, err)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)

	pool, err = NewPool(0, 0, process)
	require.NoError(t, err)
	assert.Equal(t, defaultWorkers, pool.workers)
	assert.Equal(t, defaultQueueSize, pool.queueSize)

	_, err = NewPool[testWork](1, 1, nil)
	assert.ErrorIs(t, err, ErrNilProcessor)
	assert.True(t, pkgerrors.IsFatal(err))
}

func TestPoolLifecycle(t *testing.T) {
	pool, err := NewPool(2, 10, process)
	require.NoError(t, err)

	assert.ErrorIs(t, pool.Submit(testWork{}), ErrPoolNotStarted)
	assert.NoError(t, pool.Stop(time.Second), "stopping an unstarted pool is a no-op")

	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(testWork{id: i, fail: i%2 == 0}))
	}
	require.NoError(t, pool.Stop(time.Second))
	assert.ErrorIs(t, pool.Submit(testWork{}), ErrPoolStopped)
	assert.NoError(t, pool.Stop(time.Second), "second stop is a no-op")

	stats := pool.Stats()
	assert.Equal(t, int64(5), stats.Submitted)
	assert.Equal(t, int64(5), stats.Processed, "stop drains the queue")
	assert.Equal(t, int64(3), stats.Failed)
	assert.Zero(t, stats.QueueDepth)
}

func TestPoolQueueFull(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	var once sync.Once
	pool, err := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		once.Do(started.Done)
		<-release
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{id: 1}))
	started.Wait()
	require.NoError(t, pool.Submit(testWork{id: 2}), "fills the queue")

	err = pool.Submit(testWork{id: 3})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.True(t, pkgerrors.IsTransient(err))
	assert.Equal(t, int64(1), pool.Stats().Dropped)

	close(release)
	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int64(2), pool.Stats().Processed)
}

func TestPoolStopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	pool, err := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{}))

	assert.ErrorIs(t, pool.Stop(20*time.Millisecond), ErrStopTimeout)
}

func TestPoolContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var seen atomic.Int64
	pool, err := NewPool(1, 10, func(ctx context.Context, w testWork) error {
		seen.Add(1)
		return process(ctx, w)
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(ctx))

	require.NoError(t, pool.Submit(testWork{delay: time.Hour}))
	require.Eventually(t, func() bool { return seen.Load() == 1 }, time.Second, time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Submit(testWork{}))
	}
	cancel()

	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int64(1), pool.Stats().Processed, "queued work is abandoned on cancel")
}

func TestPoolRecoversPanics(t *testing.T) {
	pool, err := NewPool(1, 4, process)
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{panic: true}))
	require.NoError(t, pool.Submit(testWork{}))
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Processed, "the worker survives a panic")
	assert.Equal(t, int64(1), stats.Failed)

	err = pool.run(context.Background(), testWork{panic: true})
	assert.ErrorIs(t, err, ErrWorkPanicked)
}

func TestPoolMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool, err := NewPool(2, 8, process, WithMetrics[testWork](registry, "test"))
	require.NoError(t, err)
	require.NotNil(t, pool.metrics)

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{}))
	require.NoError(t, pool.Submit(testWork{fail: true}))
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, 2.0, promtest.ToFloat64(pool.metrics.items.WithLabelValues("submitted")))
	assert.Equal(t, 2.0, promtest.ToFloat64(pool.metrics.items.WithLabelValues("processed")))
	assert.Equal(t, 1.0, promtest.ToFloat64(pool.metrics.items.WithLabelValues("failed")))
	assert.Equal(t, 0.0, promtest.ToFloat64(pool.metrics.queueDepth))

	_, err = NewPool(1, 1, process, WithMetrics[testWork](registry, "test"))
	assert.Error(t, err, "names are unique per registry")

	other, err := NewPool(1, 1, process, WithMetrics[testWork](registry, "other"))
	require.NoError(t, err)
	assert.NotNil(t, other.metrics)
}
