package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAllTasksRun(t *testing.T) {
	p := New(4)
	var n int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			atomic.AddInt32(&n, 1)
		})
	}
	wg.Wait()
	p.Stop()
	p.Wait()
	if got := atomic.LoadInt32(&n); got != 100 {
		t.Fatalf("ran %d tasks, want 100", got)
	}
}

func TestPanicInTaskDoesNotKillWorker(t *testing.T) {
	p := New(2)
	var wg sync.WaitGroup

	wg.Add(1)
	p.Submit(func() {
		defer wg.Done()
		panic("boom")
	})
	wg.Wait()

	var ran int32
	wg.Add(1)
	p.Submit(func() {
		defer wg.Done()
		atomic.AddInt32(&ran, 1)
	})
	wg.Wait()

	p.Stop()
	p.Wait()
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("a panicking task must not prevent subsequent tasks from running")
	}
}

func TestDefaultSizeFromNonPositive(t *testing.T) {
	// Just confirm it doesn't hang or panic constructing with 0/-1; actual
	// size is runtime.NumCPU() and not independently observable here.
	p := New(0)
	p.Stop()
	p.Wait()

	p2 := New(-3)
	p2.Stop()
	p2.Wait()
}

func TestSubmitAfterStopIsNoop(t *testing.T) {
	p := New(2)
	p.Stop()
	p.Wait()

	ran := make(chan struct{}, 1)
	p.Submit(func() { ran <- struct{}{} })

	select {
	case <-ran:
		t.Fatal("Submit after Stop must not run the task")
	case <-time.After(50 * time.Millisecond):
	}
}
