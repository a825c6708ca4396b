// Package workerpool provides a bounded goroutine pool with backpressure
// that collects task errors.
//
// Basic usage:
//
//	pool := workerpool.New(8)
//	defer pool.Shutdown()
//
//	for _, f := range files {
//	    f := f
//	    if err := pool.SubmitWait(ctx, func() error { return upload(f) }); err != nil {
//	        break
//	    }
//	}
//	err := pool.Wait() // every task error, joined
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolFull is returned by Submit when all workers are busy and the task
// queue is at capacity.
var ErrPoolFull = errors.New("workerpool: pool is full")

// ErrPoolClosed is returned by Submit after Shutdown has been called.
var ErrPoolClosed = errors.New("workerpool: pool is closed")

// Pool is a bounded goroutine pool.
type Pool struct {
	tasks   chan func() error
	workers sync.WaitGroup
	pending sync.WaitGroup

	mu     sync.RWMutex // guards closed against sends on a closed channel
	closed bool

	errMu sync.Mutex
	errs  []error
}

// New creates a Pool with the given number of workers.
// size must be > 0.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}

	p := &Pool{
		// Buffer equal to 2× the worker count so bursts can be absorbed.
		tasks: make(chan func() error, size*2),
	}

	for i := 0; i < size; i++ {
		p.workers.Add(1)
		go p.worker()
	}

	return p
}

// Submit enqueues task without blocking.
//   - Returns ErrPoolFull if the task queue is at capacity.
//   - Returns ErrPoolClosed if Shutdown has been called.
func (p *Pool) Submit(task func() error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.pending.Add(1)
	select {
	case p.tasks <- task:
		return nil
	default:
		p.pending.Done()
		return ErrPoolFull
	}
}

// SubmitWait is like Submit but blocks until a slot is available, ctx is
// done, or the pool is closed.
func (p *Pool) SubmitWait(ctx context.Context, task func() error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.pending.Add(1)
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		p.pending.Done()
		return ctx.Err()
	}
}

// Wait blocks until every submitted task has finished and returns their
// errors joined, or nil. Collected errors are reset.
func (p *Pool) Wait() error {
	p.pending.Wait()

	p.errMu.Lock()
	defer p.errMu.Unlock()
	err := errors.Join(p.errs...)
	p.errs = nil
	return err
}

// Shutdown stops accepting new tasks, waits for queued tasks to complete,
// and releases all worker goroutines. It is safe to call multiple times.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.workers.Wait()
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for task := range p.tasks {
		if err := safeRun(task); err != nil {
			p.errMu.Lock()
			p.errs = append(p.errs, err)
			p.errMu.Unlock()
		}
		p.pending.Done()
	}
}

// safeRun turns a panicking task into an error so the worker survives.
func safeRun(task func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workerpool: task panicked: %v", r)
		}
	}()
	return task()
}
