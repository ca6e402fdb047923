package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/FMHsieh/esigate/logging"
	"github.com/FMHsieh/esigate/metrics"
)

const (
	DefaultWorkerIdleLifetime = 60 * time.Second
	DefaultQueueSize          = 100
	DefaultMaxRetries         = 1
)

// PoolOptions configure the background revalidations of an instance.
type PoolOptions struct {
	Instance string

	// MinWorkers are kept running when idle.
	MinWorkers int

	// MaxWorkers limits the concurrent revalidations. When 0, there
	// are no background revalidations.
	MaxWorkers int

	// IdleLifetime is the time after which an idle worker above
	// MinWorkers stops.
	IdleLifetime time.Duration

	// QueueSize limits the waiting revalidations. When the queue is
	// full, new revalidations are dropped.
	QueueSize int

	// MaxRetries is the number of retries of a failed revalidation,
	// with exponential backoff.
	MaxRetries int

	Metrics metrics.Metrics
	Log     logging.Logger
}

type job struct {
	key string
	run func(context.Context) error
}

// Pool runs the background revalidations on a bounded number of
// workers. At most one revalidation of a key is queued or running.
type Pool struct {
	options PoolOptions
	jobs    chan job
	quit    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	workers int
	idle    int
	pending map[string]bool
	closed  bool
}

// NewPool creates a pool and starts its minimum workers. It returns nil
// when MaxWorkers is 0.
func NewPool(o PoolOptions) *Pool {
	if o.MaxWorkers <= 0 {
		return nil
	}

	o.MinWorkers = min(max(o.MinWorkers, 0), o.MaxWorkers)
	if o.IdleLifetime <= 0 {
		o.IdleLifetime = DefaultWorkerIdleLifetime
	}

	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}

	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}

	if o.Metrics == nil {
		o.Metrics = metrics.NewVoid()
	}

	if o.Log == nil {
		o.Log = logging.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		options: o,
		jobs:    make(chan job, o.QueueSize),
		quit:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]bool),
	}

	p.mu.Lock()
	for range o.MinWorkers {
		p.startWorker()
	}
	p.mu.Unlock()

	return p
}

// must be called with the lock held
func (p *Pool) startWorker() {
	p.workers++
	p.idle++
	p.wg.Add(1)
	go p.worker()
}

// Schedule queues a revalidation of key. It returns false when the
// revalidation was dropped because the queue is full or the pool is
// closed. When a revalidation of the key is already pending, it returns
// true without queuing another one.
func (p *Pool) Schedule(key string, run func(context.Context) error) bool {
	if p == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	if p.pending[key] {
		return true
	}

	select {
	case p.jobs <- job{key: key, run: run}:
	default:
		p.options.Metrics.IncRevalidation(p.options.Instance, metrics.RevalidationDropped)
		p.options.Log.Warnf("revalidation queue of %s is full, dropping %s", p.options.Instance, key)
		return false
	}

	p.pending[key] = true
	if p.idle < len(p.jobs) && p.workers < p.options.MaxWorkers {
		p.startWorker()
	}

	return true
}

func (p *Pool) worker() {
	defer p.wg.Done()

	timer := time.NewTimer(p.options.IdleLifetime)
	defer timer.Stop()

	for {
		select {
		case j := <-p.jobs:
			p.mu.Lock()
			p.idle--
			p.mu.Unlock()

			p.run(j)

			p.mu.Lock()
			p.idle++
			delete(p.pending, j.key)
			p.mu.Unlock()

			timer.Reset(p.options.IdleLifetime)
		case <-timer.C:
			p.mu.Lock()
			if p.workers > p.options.MinWorkers {
				p.workers--
				p.idle--
				p.mu.Unlock()
				return
			}

			p.mu.Unlock()
			timer.Reset(p.options.IdleLifetime)
		case <-p.quit:
			return
		}
	}
}

func (p *Pool) run(j job) {
	_, err := backoff.Retry(p.ctx, func() (struct{}, error) {
		return struct{}{}, j.run(p.ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(p.options.MaxRetries+1)),
	)

	if err != nil {
		p.options.Metrics.IncRevalidation(p.options.Instance, metrics.RevalidationFailed)
		p.options.Log.Warnf("revalidation of %s failed: %v", j.key, err)
		return
	}

	p.options.Metrics.IncRevalidation(p.options.Instance, metrics.RevalidationDone)
}

// Pending returns the number of queued or running revalidations.
func (p *Pool) Pending() int {
	if p == nil {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close stops the workers. The running revalidations are canceled and
// the queued ones dropped.
func (p *Pool) Close() {
	if p == nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	p.closed = true
	p.mu.Unlock()

	p.cancel()
	close(p.quit)
	p.wg.Wait()
}
