package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FMHsieh/esigate/metrics/metricstest"
)

func counter(m *metricstest.MockMetrics, key string) int64 {
	n, _ := m.Counter(key)
	return n
}

func TestPoolDisabled(t *testing.T) {
	p := NewPool(PoolOptions{})
	assert.Nil(t, p)
	assert.False(t, p.Schedule("key", func(context.Context) error { return nil }))
	assert.Zero(t, p.Pending())
	p.Close()
}

func TestPoolQueue(t *testing.T) {
	m := &metricstest.MockMetrics{}
	p := NewPool(PoolOptions{Instance: "provider", MaxWorkers: 1, QueueSize: 1, Metrics: m})
	defer p.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	block := func(context.Context) error {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}

	require.True(t, p.Schedule("a", block))
	<-started

	// pending key
	assert.True(t, p.Schedule("a", block))

	require.True(t, p.Schedule("b", block))
	assert.Equal(t, 2, p.Pending())

	// queue full
	assert.False(t, p.Schedule("c", block))
	assert.Equal(t, int64(1), counter(m, "revalidation.provider.dropped"))

	close(release)
	<-started

	require.Eventually(t, func() bool {
		return p.Pending() == 0 && counter(m, "revalidation.provider.done") == 2
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(2), runs.Load())
}

func TestPoolRetry(t *testing.T) {
	m := &metricstest.MockMetrics{}
	p := NewPool(PoolOptions{Instance: "provider", MaxWorkers: 2, MaxRetries: 1, Metrics: m})
	defer p.Close()

	var calls atomic.Int32
	p.Schedule("flaky", func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("failed")
		}

		return nil
	})

	p.Schedule("broken", func(context.Context) error {
		return errors.New("failed")
	})

	require.Eventually(t, func() bool {
		return p.Pending() == 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(1), counter(m, "revalidation.provider.done"))
	assert.Equal(t, int64(1), counter(m, "revalidation.provider.failed"))
}

func TestPoolIdleWorkers(t *testing.T) {
	p := NewPool(PoolOptions{MinWorkers: 1, MaxWorkers: 3, IdleLifetime: 10 * time.Millisecond})
	defer p.Close()

	release := make(chan struct{})
	for _, key := range []string{"a", "b", "c"} {
		require.True(t, p.Schedule(key, func(context.Context) error {
			<-release
			return nil
		}))
	}

	p.mu.Lock()
	assert.LessOrEqual(t, p.workers, 3)
	p.mu.Unlock()

	close(release)
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.pending) == 0 && p.workers == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPoolClose(t *testing.T) {
	p := NewPool(PoolOptions{MaxWorkers: 1})

	canceled := make(chan struct{})
	started := make(chan struct{})
	p.Schedule("key", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	})

	<-started
	p.Close()
	<-canceled
	assert.False(t, p.Schedule("other", func(context.Context) error { return nil }))
	p.Close()
}
