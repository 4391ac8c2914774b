package dispatch

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/systmms/vaultlease/internal/logging"
)

// ErrPoolClosed is returned when work is submitted to a shut-down pool.
var ErrPoolClosed = errors.New("dispatch pool is shut down")

// ErrQueueFull is returned when the pool's queue is saturated. Submit never
// blocks the caller; overload sheds work instead of stalling the scheduler
// scan.
var ErrQueueFull = errors.New("dispatch queue is full")

// PoolMetrics tracks pool operational counters.
type PoolMetrics struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Dropped   int64 `json:"dropped"`
	Panics    int64 `json:"panics"`
}

// Pool runs submitted jobs on a fixed set of workers. Panics inside a job are
// recovered and logged; they never propagate to the submitter.
type Pool struct {
	name    string
	queue   chan func()
	wg      sync.WaitGroup
	logger  *logging.Logger
	metrics PoolMetrics

	mu     sync.RWMutex
	closed bool
}

// NewPool starts a pool with the given concurrency and queue depth.
func NewPool(name string, workers, queueSize int, logger *logging.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = logging.New(false, true)
	}

	p := &Pool{
		name:   name,
		queue:  make(chan func(), queueSize),
		logger: logger,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues a job without blocking. A full queue sheds the job with
// ErrQueueFull.
func (p *Pool) Submit(fn func()) error {
	if fn == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- fn:
		atomic.AddInt64(&p.metrics.Submitted, 1)
		return nil
	default:
		atomic.AddInt64(&p.metrics.Dropped, 1)
		return ErrQueueFull
	}
}

// Shutdown stops intake, drains queued jobs, and waits for the workers to
// finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *Pool) Metrics() PoolMetrics {
	return PoolMetrics{
		Submitted: atomic.LoadInt64(&p.metrics.Submitted),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Dropped:   atomic.LoadInt64(&p.metrics.Dropped),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for fn := range p.queue {
		p.runJob(fn)
	}
}

func (p *Pool) runJob(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&p.metrics.Panics, 1)
			p.logger.Error("panic in %s job: %v", p.name, r)
			return
		}
		atomic.AddInt64(&p.metrics.Completed, 1)
	}()
	fn()
}
