// Package pool implements the fixed-size cooperative worker pool spec
// §4.8 mandates: one mutex-guarded FIFO queue, one condition variable,
// and a single atomic stop flag. This is deliberately hand-rolled rather
// than built on golang.org/x/sync/errgroup or a semaphore — the spec
// calls out that the scheduler's hot path (task submission on every
// completion) must not substitute a mutex-heavy primitive here, and a
// bounded worker count with a wake-on-submit queue is simplest expressed
// directly.
package pool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Task is one unit of work submitted by the scheduler — one compile or
// link subprocess, end to end. Tasks never preempt each other and never
// yield back to the pool mid-work (spec §4.8, §5).
type Task func()

// Pool is a fixed-size FIFO task queue drained by a fixed set of worker
// goroutines.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	stopped atomic.Bool

	wg sync.WaitGroup
}

// New starts a Pool with size worker goroutines. size <= 0 defaults to
// runtime.NumCPU(), matching spec §4.8's default.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopped.Load() {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.stopped.Load() {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		runTask(task)
	}
}

// runTask executes task, recovering a panic so one failing task cannot
// take down the worker goroutine. The recovered value is discarded; the
// panic is not reported anywhere.
func runTask(task Task) {
	defer func() {
		_ = recover()
	}()
	task()
}

// Submit enqueues task and wakes one waiting worker. Submitting after
// Stop is a no-op; callers that need that guarantee should check their
// own cancellation flag before submitting (spec §4.9's cooperative
// cancellation happens at the scheduler layer, not here).
func (p *Pool) Submit(task Task) {
	p.mu.Lock()
	if p.stopped.Load() {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, task)
	p.mu.Unlock()
	p.cond.Signal()
}

// Stop raises the stop flag and wakes every worker; workers drain any
// tasks already queued before exiting — Stop does not discard pending
// work, it only prevents new submissions via the stopped check above and
// lets in-flight tasks finish (the scheduler decides what "in-flight"
// means at the target level via its own fail_fast policy).
func (p *Pool) Stop() {
	p.stopped.Store(true)
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Wait blocks until every worker goroutine has exited, i.e. until Stop
// has been called and the queue has drained.
func (p *Pool) Wait() {
	p.wg.Wait()
}
