// Package dirty computes, for every node in topological order, whether
// its artifact is current with respect to its inputs, flags, and
// toolchain (spec §4.3), then propagates dirtiness to every transitive
// reverse-dependency before scheduling begins.
package dirty

import (
	"github.com/ariamake/ariamake/internal/fsclock"
	"github.com/ariamake/ariamake/internal/graph"
	"github.com/ariamake/ariamake/internal/statestore"
)

// Reason is a human-readable tag for why a node was marked dirty, used
// only for diagnostics (`check` prints it for every dirty target);
// scheduling only cares about the bool.
type Reason string

const (
	ReasonMissingOutput     Reason = "missing_output"
	ReasonNoPriorState      Reason = "no_prior_state"
	ReasonToolchainChanged  Reason = "toolchain_changed"
	ReasonCommandChanged    Reason = "command_changed"
	ReasonSourceChanged     Reason = "source_changed"
	ReasonImplicitDepChange Reason = "implicit_dep_changed"
	ReasonDependencyDirty   Reason = "dependency_dirty"
	ReasonForced            Reason = "forced"
	ReasonClean             Reason = ""
)

// Analysis carries the outcome of dirty analysis for one node, set aside
// primarily for --verbose / `check` reporting.
type Analysis struct {
	Dirty  bool
	Reason Reason
}

// Store is the subset of statestore.Store the analyzer needs, narrowed so
// tests can supply a fake without constructing a real file-backed store.
type Store interface {
	Get(name string) (*statestore.StateRecord, bool)
}

// CommandDigestOf resolves the live command digest for a node;
// internal/build computes this once per node before calling Analyze (spec
// §4.3 point 4 treats it as already computed "at build-setup time").
type CommandDigestOf func(id graph.NodeID) uint64

// ToolchainOf resolves the live toolchain path/version, compared against
// what the prior StateRecord observed (spec §4.3 point 3).
type ToolchainOf func(id graph.NodeID) (path, version string)

// Analyze runs the single-pass dirty computation over g in topological
// order and returns a per-node Analysis map. force marks every node dirty
// without consulting state (spec §4.3's force-rebuild flag); prior
// records are then not read at all, and stay in the store until a
// successful build overwrites them.
func Analyze(g *graph.Graph, order []graph.NodeID, store Store, digestOf CommandDigestOf, toolchainOf ToolchainOf, force bool) map[graph.NodeID]Analysis {
	results := make(map[graph.NodeID]Analysis, len(order))

	for _, id := range order {
		node := g.Node(id)
		if force {
			results[id] = Analysis{Dirty: true, Reason: ReasonForced}
			node.SetDirty(true)
			continue
		}

		analysis := analyzeNode(g, node, store, digestOf, toolchainOf)
		results[id] = analysis
		node.SetDirty(analysis.Dirty)
	}

	propagate(g, order, results)
	return results
}

func analyzeNode(g *graph.Graph, node *graph.Node, store Store, digestOf CommandDigestOf, toolchainOf ToolchainOf) Analysis {
	t := node.Target

	if !fsclock.Exists(t.OutputPath) {
		return Analysis{Dirty: true, Reason: ReasonMissingOutput}
	}

	rec, ok := store.Get(t.Name)
	if !ok {
		return Analysis{Dirty: true, Reason: ReasonNoPriorState}
	}

	path, version := toolchainOf(node.ID)
	if rec.ToolchainPath != path || rec.ToolchainVersion != version {
		return Analysis{Dirty: true, Reason: ReasonToolchainChanged}
	}

	if digestOf(node.ID) != rec.CommandDigest {
		return Analysis{Dirty: true, Reason: ReasonCommandChanged}
	}

	for _, src := range t.Sources {
		ticks, err := fsclock.Stat(src)
		if err != nil {
			// Source is unreadable right now; dirty_analysis is only
			// fatal later, at build time, if the source is still
			// absent (spec §7). Here we just force a rebuild attempt.
			return Analysis{Dirty: true, Reason: ReasonSourceChanged}
		}
		stamp, known := rec.SourceStamps[src]
		if !known || ticks > stamp {
			return Analysis{Dirty: true, Reason: ReasonSourceChanged}
		}
	}

	for path, stamp := range rec.ImplicitDeps {
		// A missing implicit dep (err != nil) forces re-analysis just
		// like a newer mtime — the import may have been removed, which
		// the next dependency scan needs to confirm (spec §4.3 point 6).
		ticks, err := fsclock.Stat(path)
		if err != nil || ticks > stamp {
			return Analysis{Dirty: true, Reason: ReasonImplicitDepChange}
		}
	}

	outputTicks, err := fsclock.Stat(t.OutputPath)
	if err != nil {
		return Analysis{Dirty: true, Reason: ReasonMissingOutput}
	}
	for _, depOut := range rec.DependencyOutputs {
		depTicks, err := fsclock.Stat(depOut)
		if err != nil || depTicks > outputTicks {
			return Analysis{Dirty: true, Reason: ReasonDependencyDirty}
		}
	}

	for _, depID := range node.Dependencies() {
		if g.Node(depID).Dirty() {
			return Analysis{Dirty: true, Reason: ReasonDependencyDirty}
		}
	}

	return Analysis{Dirty: false, Reason: ReasonClean}
}

// propagate sets dirty on every transitive reverse-dependency of every
// dirty node. Because Analyze walks order leaves-first and condition 7
// already consults each dependency's just-computed Dirty() bit, forward
// propagation already happens inline; this pass is a defensive,
// idempotent second sweep guaranteeing the invariant spec §4.3 states
// explicitly as its own step, independent of how the forward pass is
// implemented.
func propagate(g *graph.Graph, order []graph.NodeID, results map[graph.NodeID]Analysis) {
	for i := 0; i < len(order); i++ {
		id := order[i]
		if !g.Node(id).Dirty() {
			continue
		}
		for _, depID := range g.Node(id).Dependents() {
			dependent := g.Node(depID)
			if !dependent.Dirty() {
				dependent.SetDirty(true)
				a := results[depID]
				a.Dirty = true
				if a.Reason == ReasonClean {
					a.Reason = ReasonDependencyDirty
				}
				results[depID] = a
			}
		}
	}
}
