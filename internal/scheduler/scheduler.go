// Package scheduler runs the parallel Kahn variant that drives the build
// once cycle validation and dirty analysis have finished (spec §4.9): it
// submits every initially-ready dirty target to the worker pool, and on
// each completion atomically decrements the in-degree of reverse
// dependencies that are themselves dirty, submitting any that reach zero.
//
// The scheduler performs no I/O of its own — every observable effect is
// either a call to Exec (one target's build step) or a call to the
// caller-supplied Progress sink, matching spec §9's "scheduler is a pure
// coordination layer" design note.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ariamake/ariamake/internal/graph"
	"github.com/ariamake/ariamake/internal/pool"
)

// FailurePolicy selects what happens to sibling work after a target fails.
type FailurePolicy int

const (
	// ContinueIndependent keeps building every target whose dependency
	// chain did not include the failure (spec §4.9's default).
	ContinueIndependent FailurePolicy = iota
	// FailFast stops submitting new work the moment any target fails.
	FailFast
)

// Phase tags a Progress callback invocation.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseDone
	PhaseSkipped
	PhaseFailed
)

// ProgressEvent is one notification emitted as the build proceeds. Total
// is fixed for the whole run; Current counts targets that have left
// PhaseStart.
type ProgressEvent struct {
	Phase   Phase
	Target  string
	Current int
	Total   int
}

// Progress receives one ProgressEvent per state transition. Implementations
// must not block the scheduler for long — spec §4.9 assigns them no
// ordering guarantee beyond "happens after the transition they describe".
type Progress func(ProgressEvent)

// Exec builds one dirty node. Returning nil marks the node Completed;
// returning an error marks it Failed. Exec is never invoked for clean
// nodes.
type Exec func(ctx context.Context, id graph.NodeID) error

// Result is the scheduler's final report.
type Result struct {
	Built   []graph.NodeID
	Failed  map[graph.NodeID]error
	Skipped []graph.NodeID // dirty nodes never attempted due to fail-fast or a failed ancestor
}

// Run drives g to completion. dirty marks which nodes actually need
// building (spec §4.9 point 1: "the set of targets that must be built").
// jobs sizes the worker pool (0 = runtime.NumCPU, per internal/pool).
func Run(ctx context.Context, g *graph.Graph, dirty map[graph.NodeID]bool, jobs int, policy FailurePolicy, exec Exec, progress Progress) Result {
	p := pool.New(jobs)
	defer p.Wait()

	total := len(dirty)
	var current int32

	var mu sync.Mutex
	result := Result{Failed: make(map[graph.NodeID]error)}

	var failed atomic.Bool
	var wg sync.WaitGroup

	// graph.Node's in-degree (as left by ResetRuntimeState) counts every
	// dependency, dirty or clean. Only dirty dependencies ever complete
	// through this scheduler and decrement it, so it must be rebased to
	// "count of dirty dependencies" here or a dirty node with any clean
	// dependency would sit at a nonzero in-degree forever (spec §4.9
	// point 2's "ready set" is defined purely in terms of the dirty
	// set).
	for id := range dirty {
		count := int32(0)
		for _, depID := range g.Node(id).Dependencies() {
			if dirty[depID] {
				count++
			}
		}
		g.Node(id).SetInDegree(count)
	}

	// Fail-fast is decided when a node is submitted: once a failure is
	// recorded no new node is submitted for building, while a node that
	// was already submitted (including every initially ready one) runs
	// to completion.
	var submit func(id graph.NodeID, initial bool)
	submit = func(id graph.NodeID, initial bool) {
		abandoned := !initial && policy == FailFast && failed.Load()
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()

			if abandoned {
				g.Node(id).SetStatus(graph.Failed)
				mu.Lock()
				result.Skipped = append(result.Skipped, id)
				mu.Unlock()
				emit(progress, PhaseSkipped, g, id, &current, total)
				// id itself never runs exec, so it never reaches the
				// Failed-path propagateSkip call below — without this,
				// id's own dependents would sit at a nonzero in-degree
				// forever and vanish from every one of Built/Failed/
				// Skipped once a chain under fail-fast is more than one
				// level deep.
				propagateSkip(g, id, dirty, &result, &mu)
				return
			}

			g.Node(id).SetStatus(graph.Building)
			emit(progress, PhaseStart, g, id, nil, total)

			err := exec(ctx, id)
			n := atomic.AddInt32(&current, 1)

			if err != nil {
				g.Node(id).SetStatus(graph.Failed)
				failed.Store(true)
				mu.Lock()
				result.Failed[id] = err
				mu.Unlock()
				if progress != nil {
					progress(ProgressEvent{Phase: PhaseFailed, Target: g.Node(id).Target.Name, Current: int(n), Total: total})
				}
				propagateSkip(g, id, dirty, &result, &mu)
				return
			}

			g.Node(id).SetStatus(graph.Completed)
			mu.Lock()
			result.Built = append(result.Built, id)
			mu.Unlock()
			if progress != nil {
				progress(ProgressEvent{Phase: PhaseDone, Target: g.Node(id).Target.Name, Current: int(n), Total: total})
			}

			for _, depID := range g.Node(id).Dependents() {
				if !dirty[depID] {
					continue
				}
				if g.Node(depID).DecrementInDegree() == 0 {
					submit(depID, false)
				}
			}
		})
	}

	// Collect the initially ready set before submitting any of it, so a
	// node whose in-degree a running worker has already brought to zero
	// (and submitted) is not submitted a second time here.
	var ready []graph.NodeID
	for id := range dirty {
		if g.Node(id).InDegree() == 0 {
			ready = append(ready, id)
		}
	}
	for _, id := range ready {
		submit(id, true)
	}

	wg.Wait()
	p.Stop()
	return result
}

// propagateSkip marks every not-yet-started dirty dependent of a failed
// node as Skipped, recursively, so that under FailFast (or simply because
// a dependency can never complete) a caller can report the full set of
// work that was abandoned rather than leaving it silently unreported.
func propagateSkip(g *graph.Graph, failedID graph.NodeID, dirty map[graph.NodeID]bool, result *Result, mu *sync.Mutex) {
	var walk func(id graph.NodeID)
	walk = func(id graph.NodeID) {
		for _, depID := range g.Node(id).Dependents() {
			if !dirty[depID] {
				continue
			}
			dep := g.Node(depID)
			if dep.Status() != graph.NotStarted {
				continue
			}
			dep.SetStatus(graph.Failed)
			mu.Lock()
			result.Skipped = append(result.Skipped, depID)
			mu.Unlock()
			walk(depID)
		}
	}
	// A failed target can never let a dependent reach in-degree zero
	// (that dependent's edge from the failed node never decrements), so
	// without this walk those dependents would simply never be
	// submitted — silently, not reported. This makes the abandonment
	// explicit in Result.Skipped regardless of policy.
	walk(failedID)
}

func emit(progress Progress, phase Phase, g *graph.Graph, id graph.NodeID, current *int32, total int) {
	if progress == nil {
		return
	}
	var n int
	if current != nil {
		n = int(atomic.LoadInt32(current))
	}
	progress(ProgressEvent{Phase: phase, Target: g.Node(id).Target.Name, Current: n, Total: total})
}
