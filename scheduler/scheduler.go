// Package scheduler provides the admission control of the inbound
// requests: a LIFO queue with a maximum concurrency and queue size.
package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/aryszka/jobqueue"

	"github.com/FMHsieh/esigate/metrics"
)

const (
	activeRequestsMetricsKey = "admission.active"
	queuedRequestsMetricsKey = "admission.queued"
)

var (
	// ErrQueueFull is returned by Wait when too many requests are
	// waiting.
	ErrQueueFull = errors.New("queue full")

	// ErrQueueTimeout is returned by Wait when a request waited longer
	// than the queue timeout.
	ErrQueueTimeout = errors.New("queue timeout")

	// ErrQueueClosed is returned by Wait after Close.
	ErrQueueClosed = errors.New("queue closed")
)

// Config can be used to provide configuration of the queue.
type Config struct {

	// MaxConcurrency defines how many requests are allowed to run
	// concurrently. When 0, the requests are not queued.
	MaxConcurrency int

	// MaxQueueSize defines how many requests may be waiting in the
	// queue. Defaults to infinite.
	MaxQueueSize int

	// Timeout defines how long a request can be waiting in the queue.
	// Defaults to infinite.
	Timeout time.Duration
}

// QueueStatus reports the current status of a queue. It can be used for metrics.
type QueueStatus struct {

	// ActiveRequests represents the number of the requests currently being handled.
	ActiveRequests int

	// QueuedRequests represents the number of requests waiting to be handled.
	QueuedRequests int
}

// Options provides options for the queue.
type Options struct {
	Config

	// MetricsUpdateTimeout defines the frequence of how often the queue
	// metrics are updated. Defaults to 1s.
	MetricsUpdateTimeout time.Duration

	// Metrics, when set, receives the number of the active and the
	// queued requests.
	Metrics metrics.Metrics
}

// Queue implements a LIFO queue for handling the inbound requests. The
// most recent requests are served first, so that under load the clients
// still waiting get an answer, and the ones that likely gave up are
// rejected.
type Queue struct {
	queue   *jobqueue.Stack
	options Options
	quit    chan struct{}
	once    sync.Once
}

// New creates a queue. It returns nil, a queue admitting every request,
// when MaxConcurrency is not positive.
func New(o Options) *Queue {
	if o.MaxConcurrency <= 0 {
		return nil
	}

	if o.MetricsUpdateTimeout <= 0 {
		o.MetricsUpdateTimeout = time.Second
	}

	q := &Queue{
		// renaming Stack -> Queue in the jobqueue project will follow
		queue: jobqueue.With(jobqueue.Options{
			MaxConcurrency: o.MaxConcurrency,
			MaxStackSize:   o.MaxQueueSize,
			Timeout:        o.Timeout,
		}),
		options: o,
		quit:    make(chan struct{}),
	}

	if o.Metrics != nil {
		go q.measure()
	}

	return q
}

// Wait blocks until a request can be processed or needs to be rejected.
// When it can be processed, calling done indicates that it has finished.
// It is mandatory to call done() the request was processed. When the
// request needs to be rejected, ErrQueueFull or ErrQueueTimeout is
// returned.
func (q *Queue) Wait() (done func(), err error) {
	if q == nil {
		return func() {}, nil
	}

	done, err = q.queue.Wait()
	switch {
	case err == nil:
		return done, nil
	case errors.Is(err, jobqueue.ErrStackFull):
		return nil, ErrQueueFull
	case errors.Is(err, jobqueue.ErrTimeout):
		return nil, ErrQueueTimeout
	default:
		return nil, ErrQueueClosed
	}
}

// Status returns the current status of a queue.
func (q *Queue) Status() QueueStatus {
	if q == nil {
		return QueueStatus{}
	}

	st := q.queue.Status()
	return QueueStatus{
		ActiveRequests: st.ActiveJobs,
		QueuedRequests: st.QueuedJobs,
	}
}

// Config returns the configuration that the queue was created with.
func (q *Queue) Config() Config {
	if q == nil {
		return Config{}
	}

	return q.options.Config
}

func (q *Queue) measure() {
	for {
		s := q.Status()
		q.options.Metrics.UpdateGauge(activeRequestsMetricsKey, float64(s.ActiveRequests))
		q.options.Metrics.UpdateGauge(queuedRequestsMetricsKey, float64(s.QueuedRequests))

		select {
		case <-time.After(q.options.MetricsUpdateTimeout):
		case <-q.quit:
			return
		}
	}
}

// Close rejects the waiting requests and stops the metrics updates.
func (q *Queue) Close() {
	if q == nil {
		return
	}

	q.once.Do(func() {
		close(q.quit)
		q.queue.Close()
	})
}
