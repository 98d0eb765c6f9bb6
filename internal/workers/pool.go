// Package workers runs recording jobs on a fixed set of goroutines.
//
// Each worker owns a queue and steals from the others when its own queue is
// empty, so a slow job does not hold up the rest of a batch.
package workers

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("workers: pool closed")

// Job is one unit of recording work. It receives the index of the worker
// that runs it.
type Job func(worker int) error

// Pool is a work-stealing goroutine pool. It is safe for concurrent use.
type Pool struct {
	workers int
	queues  []chan func(int)
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// New starts a pool of n workers. If n is 0 or negative, GOMAXPROCS is used.
func New(n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	depth := max(n*4, 8)

	p := &Pool{
		workers: n,
		queues:  make([]chan func(int), n),
		done:    make(chan struct{}),
	}
	for i := range n {
		p.queues[i] = make(chan func(int), depth)
	}
	p.running.Store(true)

	p.wg.Add(n)
	for i := range n {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		select {
		case <-p.done:
			p.drain(id)
			return
		case fn := <-own:
			fn(id)
			continue
		default:
		}

		if fn := p.steal(id); fn != nil {
			fn(id)
			continue
		}
		select {
		case <-p.done:
			p.drain(id)
			return
		case fn := <-own:
			fn(id)
		}
	}
}

func (p *Pool) drain(id int) {
	for {
		select {
		case fn := <-p.queues[id]:
			fn(id)
		default:
			return
		}
	}
}

func (p *Pool) steal(id int) func(int) {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case fn := <-p.queues[i]:
			return fn
		default:
		}
	}
	return nil
}

// Run distributes jobs round-robin across the workers and waits for all of
// them. The returned error joins the job errors in job order.
func (p *Pool) Run(jobs []Job) error {
	if !p.running.Load() {
		return ErrClosed
	}
	if len(jobs) == 0 {
		return nil
	}

	errs := make([]error, len(jobs))
	var wg sync.WaitGroup
	wg.Add(len(jobs))
	for i, job := range jobs {
		fn := func(worker int) {
			defer wg.Done()
			errs[i] = job(worker)
		}
		select {
		case p.queues[i%p.workers] <- fn:
		case <-p.done:
			errs[i] = ErrClosed
			wg.Done()
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Close stops the pool after the queued jobs have run. It is safe to call
// more than once.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers.
func (p *Pool) Workers() int { return p.workers }
