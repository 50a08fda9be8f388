// Package worker runs receipt processing jobs on a fixed set of goroutines
// so OCR never blocks the caller.
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// ErrClosed is returned when submitting to a closed pool
var ErrClosed = errors.New("worker pool closed")

// Pool manages concurrent receipt processing jobs
type Pool struct {
	workers  int
	jobQueue chan func()
	wg       sync.WaitGroup
	start    sync.Once
	mu       sync.RWMutex
	closed   bool
}

// NewPool creates a pool with the given number of workers. A non-positive
// count uses runtime.NumCPU().
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Pool{
		workers:  workers,
		jobQueue: make(chan func(), workers*2),
	}
}

// Workers returns the number of worker goroutines
func (p *Pool) Workers() int {
	return p.workers
}

// Start launches the workers. Calling it again has no effect.
func (p *Pool) Start() {
	p.start.Do(func() {
		for i := 0; i < p.workers; i++ {
			go p.worker()
		}
	})
}

func (p *Pool) worker() {
	for job := range p.jobQueue {
		job()
	}
}

// Submit queues job, blocking while the queue is full. It fails if ctx ends
// first or the pool is closed.
func (p *Pool) Submit(ctx context.Context, job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	p.wg.Add(1)
	wrapped := func() {
		defer p.wg.Done()
		job()
	}

	select {
	case p.jobQueue <- wrapped:
		return nil
	case <-ctx.Done():
		p.wg.Done()
		return ctx.Err()
	}
}

// Wait blocks until every submitted job has finished
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close stops accepting jobs and lets the workers drain the queue
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.jobQueue)
}
