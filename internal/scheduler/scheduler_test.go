package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ariamake/ariamake/internal/graph"
	"github.com/ariamake/ariamake/internal/manifest"
)

func target(name string, deps ...string) manifest.Target {
	return manifest.Target{
		Name:       name,
		Kind:       manifest.Executable,
		Sources:    []string{name + ".aria"},
		DirectDeps: deps,
		OutputPath: "build/" + name,
	}
}

func mustGraph(t *testing.T, targets ...manifest.Target) *graph.Graph {
	t.Helper()
	g, err := graph.BuildFromManifest(&manifest.Manifest{Targets: targets})
	if err != nil {
		t.Fatal(err)
	}
	g.ResetRuntimeState()
	return g
}

func allDirty(g *graph.Graph) map[graph.NodeID]bool {
	out := make(map[graph.NodeID]bool)
	for _, n := range g.AllNodes() {
		out[n.ID] = true
	}
	return out
}

func TestDiamondBuildsSharedDependencyOnce(t *testing.T) {
	g := mustGraph(t,
		target("core"),
		target("libA", "core"),
		target("libB", "core"),
		target("app", "libA", "libB"),
	)

	var coreBuilds int32
	var mu sync.Mutex
	var order []string
	exec := func(ctx context.Context, id graph.NodeID) error {
		name := g.Node(id).Target.Name
		if name == "core" {
			atomic.AddInt32(&coreBuilds, 1)
		}
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
		return nil
	}

	result := Run(context.Background(), g, allDirty(g), 4, ContinueIndependent, exec, nil)
	if len(result.Failed) != 0 {
		t.Fatalf("unexpected failures: %v", result.Failed)
	}
	if coreBuilds != 1 {
		t.Fatalf("core built %d times, want exactly 1", coreBuilds)
	}
	if len(result.Built) != 4 {
		t.Fatalf("built %d targets, want 4", len(result.Built))
	}

	pos := map[string]int{}
	for i, name := range order {
		pos[name] = i
	}
	if pos["core"] > pos["libA"] || pos["core"] > pos["libB"] {
		t.Fatalf("core must complete before libA/libB start, order: %v", order)
	}
	if pos["libA"] > pos["app"] || pos["libB"] > pos["app"] {
		t.Fatalf("app must start after both libA and libB, order: %v", order)
	}
}

func TestInDegreeSafetyManySiblings(t *testing.T) {
	const n = 20
	names := make([]string, n)
	targets := make([]manifest.Target, 0, n+1)
	for i := 0; i < n; i++ {
		names[i] = string(rune('a' + i))
		targets = append(targets, target(names[i]))
	}
	targets = append(targets, target("root", names...))

	for trial := 0; trial < 50; trial++ {
		g, err := graph.BuildFromManifest(&manifest.Manifest{Targets: targets})
		if err != nil {
			t.Fatal(err)
		}
		g.ResetRuntimeState()

		var rootStarted int32
		var leavesCompleted int32
		var violated int32
		exec := func(ctx context.Context, id graph.NodeID) error {
			name := g.Node(id).Target.Name
			if name == "root" {
				atomic.AddInt32(&rootStarted, 1)
				if atomic.LoadInt32(&leavesCompleted) != n {
					atomic.AddInt32(&violated, 1)
				}
				return nil
			}
			atomic.AddInt32(&leavesCompleted, 1)
			return nil
		}

		result := Run(context.Background(), g, allDirty(g), 8, ContinueIndependent, exec, nil)
		if len(result.Failed) != 0 {
			t.Fatalf("trial %d: unexpected failures: %v", trial, result.Failed)
		}
		if rootStarted != 1 {
			t.Fatalf("trial %d: root started %d times, want 1", trial, rootStarted)
		}
		if violated != 0 {
			t.Fatalf("trial %d: root started before all %d leaves completed", trial, n)
		}
	}
}

func TestFailurePropagatesToSkipped(t *testing.T) {
	g := mustGraph(t, target("core"), target("app", "core"))

	exec := func(ctx context.Context, id graph.NodeID) error {
		if g.Node(id).Target.Name == "core" {
			return errors.New("compile error")
		}
		t.Fatal("app must never be submitted once its dependency failed")
		return nil
	}

	result := Run(context.Background(), g, allDirty(g), 2, ContinueIndependent, exec, nil)
	if len(result.Failed) != 1 {
		t.Fatalf("Failed = %v, want exactly core", result.Failed)
	}
	if len(result.Skipped) != 1 {
		t.Fatalf("Skipped = %v, want exactly app", result.Skipped)
	}
	appID, _ := g.NodeByName("app")
	if result.Skipped[0] != appID.ID {
		t.Fatalf("expected app to be reported skipped, got %v", result.Skipped)
	}
}

func TestIndependentSubgraphContinuesAfterFailure(t *testing.T) {
	g := mustGraph(t, target("bad"), target("good"))

	exec := func(ctx context.Context, id graph.NodeID) error {
		if g.Node(id).Target.Name == "bad" {
			return errors.New("boom")
		}
		return nil
	}

	result := Run(context.Background(), g, allDirty(g), 2, ContinueIndependent, exec, nil)
	if len(result.Failed) != 1 {
		t.Fatalf("Failed = %v, want 1", result.Failed)
	}
	if len(result.Built) != 1 {
		t.Fatalf("independent target must still build under ContinueIndependent, Built = %v", result.Built)
	}
}

func TestFailFastStopsNewSubmissions(t *testing.T) {
	// A fails immediately, independent of everything. B is independent of
	// A but deliberately held back until A's failure has been recorded, so
	// that when B finishes and unblocks C (its dependent), fail-fast has
	// already raised its flag — C must then never actually run.
	g := mustGraph(t, target("a"), target("b"), target("c", "b"))

	aFailed := make(chan struct{})
	var cRan int32

	progress := func(ev ProgressEvent) {
		if ev.Phase == PhaseFailed && ev.Target == "a" {
			close(aFailed)
		}
	}
	exec := func(ctx context.Context, id graph.NodeID) error {
		switch g.Node(id).Target.Name {
		case "a":
			return errors.New("boom")
		case "b":
			<-aFailed // ensure a's failure is recorded before b completes
			return nil
		case "c":
			atomic.AddInt32(&cRan, 1)
			return nil
		}
		return nil
	}

	result := Run(context.Background(), g, allDirty(g), 4, FailFast, exec, progress)
	if len(result.Failed) != 1 {
		t.Fatalf("Failed = %v, want exactly a", result.Failed)
	}
	if cRan != 0 {
		t.Fatal("c must never run under fail-fast once a sibling has failed, even though its own dependency (b) succeeded")
	}
	bID, _ := g.NodeByName("b")
	found := false
	for _, id := range result.Built {
		if id == bID.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("b itself was already in flight and must still complete under fail-fast")
	}
}

func TestFailFastPropagatesThroughMultiLevelChain(t *testing.T) {
	// a fails immediately, independent of everything. x is also
	// independently ready but deliberately held back until a's failure
	// has been recorded, then succeeds — so x's completion submits y
	// only after the fail-fast flag is already set, and y itself hits
	// the early-return (rather than ever calling exec). z depends on y
	// and never reaches in-degree zero once y is abandoned that way, so
	// without propagateSkip on the early-return both y and z would
	// silently vanish from every one of Built/Failed/Skipped instead of
	// showing up in Skipped.
	g := mustGraph(t, target("a"), target("x"), target("y", "x"), target("z", "y"))

	aFailed := make(chan struct{})
	var yRan, zRan int32

	progress := func(ev ProgressEvent) {
		if ev.Phase == PhaseFailed && ev.Target == "a" {
			close(aFailed)
		}
	}
	exec := func(ctx context.Context, id graph.NodeID) error {
		switch g.Node(id).Target.Name {
		case "a":
			return errors.New("boom")
		case "x":
			<-aFailed // ensure a's failure is recorded before x completes and submits y
		case "y":
			atomic.AddInt32(&yRan, 1)
		case "z":
			atomic.AddInt32(&zRan, 1)
		}
		return nil
	}

	result := Run(context.Background(), g, allDirty(g), 4, FailFast, exec, progress)
	if len(result.Failed) != 1 {
		t.Fatalf("Failed = %v, want exactly a", result.Failed)
	}
	if yRan != 0 || zRan != 0 {
		t.Fatal("y and z must never run: y hits fail-fast once its dependency x completes")
	}
	xID, _ := g.NodeByName("x")
	found := false
	for _, id := range result.Built {
		if id == xID.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("x was already in flight and must still complete under fail-fast")
	}
	yID, _ := g.NodeByName("y")
	zID, _ := g.NodeByName("z")
	seen := map[graph.NodeID]bool{}
	for _, id := range result.Skipped {
		seen[id] = true
	}
	if !seen[yID.ID] || !seen[zID.ID] {
		t.Fatalf("expected both y and z reported skipped, got %v", result.Skipped)
	}
}

func TestProgressEventsEmitted(t *testing.T) {
	g := mustGraph(t, target("a"))
	var events []ProgressEvent
	var mu sync.Mutex
	progress := func(ev ProgressEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
	exec := func(ctx context.Context, id graph.NodeID) error { return nil }
	Run(context.Background(), g, allDirty(g), 1, ContinueIndependent, exec, progress)

	if len(events) == 0 {
		t.Fatal("expected at least one progress event")
	}
	sawDone := false
	for _, ev := range events {
		if ev.Phase == PhaseDone {
			sawDone = true
		}
	}
	if !sawDone {
		t.Fatal("expected a PhaseDone event for the single successful target")
	}
}
