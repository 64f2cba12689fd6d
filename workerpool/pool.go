// Package workerpool runs submitted tasks on a fixed set of goroutines.
//
// Tasks queue without bound and start in submission order. One mutex guards
// the queue, a condition variable wakes idle workers, and Stop lets already
// queued tasks finish before the workers exit.
package workerpool

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrStopped = errors.New("workerpool: pool is stopped")
	ErrNilTask = errors.New("workerpool: nil task")
)

// Task is one unit of work.
type Task func()

type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	workers int
	stopped bool
	wg      sync.WaitGroup
}

// New starts a pool of n workers.
func New(n int) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("workerpool: %d workers, want at least 1", n)
	}
	p := &Pool{workers: n}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.work()
	}
	return p, nil
}

// Submit queues t for execution.
func (p *Pool) Submit(t Task) error {
	if t == nil {
		return ErrNilTask
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	p.queue = append(p.queue, t)
	p.cond.Signal()
	return nil
}

// Workers returns the pool size.
func (p *Pool) Workers() int {
	return p.workers
}

// Pending returns the number of tasks waiting for a worker.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Stop rejects new submissions, lets queued tasks finish, and returns after
// every worker has exited. It is idempotent.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		p.cond.Broadcast()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()
		t()
	}
}
