package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FMHsieh/esigate/metrics/metricstest"
)

func waitStatus(t *testing.T, q *Queue, expect QueueStatus) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return q.Status() == expect
	}, time.Second, time.Millisecond)
}

func TestDisabled(t *testing.T) {
	q := New(Options{})
	assert.Nil(t, q)

	done, err := q.Wait()
	require.NoError(t, err)
	done()

	assert.Equal(t, QueueStatus{}, q.Status())
	assert.Equal(t, Config{}, q.Config())
	q.Close()
}

func TestConcurrency(t *testing.T) {
	q := New(Options{Config: Config{MaxConcurrency: 2}})
	defer q.Close()

	done1, err := q.Wait()
	require.NoError(t, err)
	done2, err := q.Wait()
	require.NoError(t, err)
	assert.Equal(t, QueueStatus{ActiveRequests: 2}, q.Status())

	admitted := make(chan struct{})
	go func() {
		done, err := q.Wait()
		if err == nil {
			done()
		}

		close(admitted)
	}()

	waitStatus(t, q, QueueStatus{ActiveRequests: 2, QueuedRequests: 1})

	done1()
	<-admitted
	done2()
	waitStatus(t, q, QueueStatus{})
}

func TestQueueTimeout(t *testing.T) {
	q := New(Options{Config: Config{MaxConcurrency: 1, Timeout: 10 * time.Millisecond}})
	defer q.Close()

	done, err := q.Wait()
	require.NoError(t, err)
	defer done()

	_, err = q.Wait()
	assert.True(t, errors.Is(err, ErrQueueTimeout))
}

func TestQueueFull(t *testing.T) {
	q := New(Options{Config: Config{MaxConcurrency: 1, MaxQueueSize: 1}})
	defer q.Close()

	done, err := q.Wait()
	require.NoError(t, err)

	results := make(chan error, 2)
	wait := func() {
		done, err := q.Wait()
		if err == nil {
			done()
		}

		results <- err
	}

	go wait()
	waitStatus(t, q, QueueStatus{ActiveRequests: 1, QueuedRequests: 1})
	go wait()

	// one of the waiting requests is rejected while the first one is
	// still active
	var rejected error
	select {
	case rejected = <-results:
	case <-time.After(time.Second):
		t.Fatal("no request rejected")
	}

	assert.True(t, errors.Is(rejected, ErrQueueFull))

	done()
	assert.NoError(t, <-results)
}

func TestClose(t *testing.T) {
	q := New(Options{Config: Config{MaxConcurrency: 1}})
	q.Close()
	q.Close()

	_, err := q.Wait()
	assert.Error(t, err)
}

func TestMetrics(t *testing.T) {
	m := &metricstest.MockMetrics{}
	q := New(Options{
		Config:               Config{MaxConcurrency: 1},
		MetricsUpdateTimeout: time.Millisecond,
		Metrics:              m,
	})
	defer q.Close()

	done, err := q.Wait()
	require.NoError(t, err)
	defer done()

	assert.Eventually(t, func() bool {
		v, ok := m.Gauge(activeRequestsMetricsKey)
		return ok && v == 1
	}, time.Second, time.Millisecond)

	v, ok := m.Gauge(queuedRequestsMetricsKey)
	assert.True(t, ok)
	assert.Equal(t, float64(0), v)
	assert.Equal(t, Config{MaxConcurrency: 1}, q.Config())
}
