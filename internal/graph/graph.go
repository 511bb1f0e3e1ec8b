// Package graph owns the dependency graph of build targets: node storage,
// bidirectional edges, and the few graph-shaped queries the rest of the
// core needs (topological order, transitive library collection). Spec
// §4.1, and the "owning graph with non-owning edges" design note in §9.
package graph

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/ariamake/ariamake/internal/aerr"
	"github.com/ariamake/ariamake/internal/manifest"
)

// NodeID is a stable, contiguous index into the graph's node arena. Using
// an integer handle instead of pointers-in-both-directions is what makes
// the graph trivially shareable across worker goroutines once
// construction finishes: node, Node identity is never transposed, IDs
// never recycle within a Graph.
type NodeID int

// Status is a node's position in the build lifecycle (spec §3).
type Status int32

const (
	NotStarted Status = iota
	Pending
	Building
	Completed
	Failed
	SkippedUpToDate
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Pending:
		return "pending"
	case Building:
		return "building"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case SkippedUpToDate:
		return "skipped_up_to_date"
	default:
		return "unknown"
	}
}

// Node is one target plus its runtime state. Edges are non-owning: both
// slices below hold NodeIDs into the same Graph's arena, never pointers,
// so a Node never outlives the Graph and never needs its own lifetime
// management.
type Node struct {
	ID     NodeID
	Target *manifest.Target

	dependencies []NodeID // out-edges: targets this one depends on
	dependents   []NodeID // in-edges: targets that depend on this one

	// Runtime state, reset at the start of every build (spec §3's
	// "Node runtime state"). inDegree and status are mutated
	// concurrently by worker goroutines on task completion and must
	// stay lock-free on that hot path (spec §4.9, §5, §9).
	inDegree atomic.Int32
	status   atomic.Int32
	dirty    atomic.Bool

	// Single-writer fields: internal/build writes CommandDigest before
	// the scheduler starts, and only the worker that builds this node
	// writes LastBuiltAt.
	// CommandDigest folds together every sub-command this target
	// issues (per-source compiles plus the archive/link step), so a
	// static_library target's digest changes if any one of them does
	// (spec §4.6).
	CommandDigest uint64
	LastBuiltAt   int64
}

// Status returns the node's current lifecycle status.
func (n *Node) Status() Status { return Status(n.status.Load()) }

// SetStatus stores the node's lifecycle status.
func (n *Node) SetStatus(s Status) { n.status.Store(int32(s)) }

// Dirty reports whether the node has been marked dirty for this build.
func (n *Node) Dirty() bool { return n.dirty.Load() }

// SetDirty marks (or unmarks) the node dirty.
func (n *Node) SetDirty(v bool) { n.dirty.Store(v) }

// InDegree returns the node's current unmet-dependency count.
func (n *Node) InDegree() int32 { return n.inDegree.Load() }

// DecrementInDegree atomically decrements the in-degree and returns the
// post-decrement value. The scheduler submits a node exactly when this
// returns 0 (spec §4.9, §9: "lock-free fetch-and-subtract").
func (n *Node) DecrementInDegree() int32 { return n.inDegree.Add(-1) }

// SetInDegree overwrites the in-degree directly. ResetRuntimeState seeds
// it from the static dependency count; the scheduler rebases it to the
// count of dirty dependencies before a run, since only dirty dependencies
// ever complete and decrement it (spec §4.9).
func (n *Node) SetInDegree(v int32) { n.inDegree.Store(v) }

// Dependencies returns the out-edges (targets this node depends on).
func (n *Node) Dependencies() []NodeID { return n.dependencies }

// Dependents returns the in-edges (targets that depend on this node).
func (n *Node) Dependents() []NodeID { return n.dependents }

// Graph exclusively owns the set of nodes for a single build. It is safe
// to read concurrently without locks once construction (AddTarget /
// AddEdge) has finished; spec §5 relies on this immutability.
type Graph struct {
	nodes  []*Node
	byName map[string]NodeID
	edges  map[[2]NodeID]bool // idempotency guard for AddEdge
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		byName: make(map[string]NodeID),
		edges:  make(map[[2]NodeID]bool),
	}
}

// AddTarget registers a new node for t. Returns aerr.Manifest/duplicate_name
// if a target with this name already exists.
func (g *Graph) AddTarget(t *manifest.Target) (NodeID, error) {
	if _, exists := g.byName[t.Name]; exists {
		return 0, aerr.New(aerr.Manifest, t.Name, "duplicate target name")
	}
	id := NodeID(len(g.nodes))
	n := &Node{ID: id, Target: t}
	g.nodes = append(g.nodes, n)
	g.byName[t.Name] = id
	return id, nil
}

// AddEdge records that `from` depends on `to`. Idempotent: re-adding the
// same edge is a no-op. Fails with aerr.Manifest/unknown_target if either
// name is not a node in this graph.
func (g *Graph) AddEdge(from, to string) error {
	fromID, ok := g.byName[from]
	if !ok {
		return aerr.New(aerr.Manifest, from, fmt.Sprintf("unknown target %q", from))
	}
	toID, ok := g.byName[to]
	if !ok {
		return aerr.New(aerr.Manifest, from, fmt.Sprintf("unknown dependency target %q", to))
	}
	key := [2]NodeID{fromID, toID}
	if g.edges[key] {
		return nil
	}
	g.edges[key] = true

	fromNode := g.nodes[fromID]
	toNode := g.nodes[toID]
	fromNode.dependencies = append(fromNode.dependencies, toID)
	toNode.dependents = append(toNode.dependents, fromID)
	return nil
}

// BuildFromManifest constructs a graph from every target in m, including
// the edges implied by each target's DirectDeps. This is the normal
// construction entry point; AddTarget/AddEdge remain available for the
// dependency-scan shim to add discovered edges in its pre-pass, before
// scheduling starts (spec §4.10).
func BuildFromManifest(m *manifest.Manifest) (*Graph, error) {
	g := New()
	for i := range m.Targets {
		if _, err := g.AddTarget(&m.Targets[i]); err != nil {
			return nil, err
		}
	}
	for i := range m.Targets {
		t := &m.Targets[i]
		for _, dep := range t.DirectDeps {
			if err := g.AddEdge(t.Name, dep); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Node returns the node for id. Panics on an out-of-range id: that is a
// programmer bug, not a user-facing error (spec §9).
func (g *Graph) Node(id NodeID) *Node { return g.nodes[id] }

// NodeByName resolves a target name to its node.
func (g *Graph) NodeByName(name string) (*Node, bool) {
	id, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.nodes[id], true
}

// AllNodes returns every node in the graph, in insertion (manifest) order.
func (g *Graph) AllNodes() []*Node { return g.nodes }

// ResetRuntimeState sets every node's in-degree to its static out-degree,
// status to NotStarted, and dirty to false. Safe to call repeatedly on
// the same Graph with no residual effect beyond what it explicitly sets
// (spec §9: watch-mode's only concession).
func (g *Graph) ResetRuntimeState() {
	for _, n := range g.nodes {
		n.inDegree.Store(int32(len(n.dependencies)))
		n.status.Store(int32(NotStarted))
		n.dirty.Store(false)
	}
}

// TopologicalOrder returns every node in a deterministic order: nodes
// with fewer unmet dependencies come first, and nodes that are mutually
// incomparable (no dependency relation) are ordered by target name
// ascending (spec §4.1). This is the canonical order used for log output
// and the compilation database; it is independent of which nodes are
// actually dirty.
func (g *Graph) TopologicalOrder() ([]NodeID, error) {
	inDegree := make([]int, len(g.nodes))
	for i, n := range g.nodes {
		inDegree[i] = len(n.dependencies)
	}

	var ready []NodeID
	for i := range g.nodes {
		if inDegree[i] == 0 {
			ready = append(ready, NodeID(i))
		}
	}
	sortByName(g, ready)

	order := make([]NodeID, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var newlyReady []NodeID
		for _, depID := range g.nodes[id].dependents {
			inDegree[depID]--
			if inDegree[depID] == 0 {
				newlyReady = append(newlyReady, depID)
			}
		}
		sortByName(g, newlyReady)
		ready = mergeByName(g, ready, newlyReady)
	}

	if len(order) != len(g.nodes) {
		// Defensive only: the cycle validator (internal/cycle) is the
		// component responsible for detecting and reporting cycles
		// with an actionable path. This always runs first, so a
		// well-formed caller never reaches this branch.
		return nil, aerr.New(aerr.Cycle, "", "graph contains a cycle")
	}
	return order, nil
}

func sortByName(g *Graph, ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool {
		return g.nodes[ids[i]].Target.Name < g.nodes[ids[j]].Target.Name
	})
}

// mergeByName merges two name-sorted NodeID slices into one, keeping the
// ready queue sorted without re-sorting the whole thing every iteration.
func mergeByName(g *Graph, a, b []NodeID) []NodeID {
	if len(b) == 0 {
		return a
	}
	if len(a) == 0 {
		return b
	}
	out := make([]NodeID, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if g.nodes[a[i]].Target.Name <= g.nodes[b[j]].Target.Name {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// CollectTransitiveLibraries returns the breadth-first union of Libraries
// over every node reachable from id via dependency edges: duplicates are
// removed preserving first occurrence, then the result is stably sorted
// for determinism (spec §4.1). This is also the order used for ELF link
// flags (spec §4.6).
func (g *Graph) CollectTransitiveLibraries(id NodeID) []string {
	seen := make(map[NodeID]bool)
	libSeen := make(map[string]bool)
	var libs []string

	queue := []NodeID{id}
	seen[id] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		node := g.nodes[cur]
		for _, lib := range node.Target.Libraries {
			if !libSeen[lib] {
				libSeen[lib] = true
				libs = append(libs, lib)
			}
		}
		for _, depID := range node.dependencies {
			if !seen[depID] {
				seen[depID] = true
				queue = append(queue, depID)
			}
		}
	}

	sort.Strings(libs)
	return libs
}
