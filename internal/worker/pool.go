// Package worker runs background tasks on a fixed set of goroutines fed by a
// bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

var (
	ErrSaturated = errors.New("worker queue is full")
	ErrClosed    = errors.New("worker pool is closed")
)

// Task is a unit of background work. ctx is cancelled when the pool closes.
type Task func(ctx context.Context)

type job struct {
	name string
	run  Task
}

// Pool is a fixed-size worker pool.
type Pool struct {
	log    *slog.Logger
	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPool(parent context.Context, workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(parent)
	p := &Pool{
		log:    logger.With(slog.String("component", "worker-pool")),
		queue:  make(chan job, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

// Submit enqueues task without blocking.
func (p *Pool) Submit(name string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- job{name: name, run: task}:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrSaturated, name)
	}
}

// Depth reports the number of queued tasks not yet picked up.
func (p *Pool) Depth() int {
	return len(p.queue)
}

// Close stops intake, cancels the task context and waits for workers to
// drain. Queued tasks still run and observe a cancelled context.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

func (p *Pool) work() {
	defer p.wg.Done()
	for j := range p.queue {
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked",
				slog.String("task", j.name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	j.run(p.ctx)
}
