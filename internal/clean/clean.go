// Package clean implements the clean lifecycle (spec §4.11): remove the
// artifacts a build wrote, either for every target, for one named target,
// or for targets no longer present in the manifest ("orphans"), using
// internal/registry as the sole source of truth for what exists on disk
// rather than re-deriving paths from naming conventions.
package clean

import (
	"os"
	"sort"

	"github.com/ariamake/ariamake/internal/registry"
	"github.com/ariamake/ariamake/internal/statestore"
)

// Plan is the set of filesystem removals one clean invocation would make,
// computed without touching disk so --dry-run can print it unchanged.
type Plan struct {
	// Targets lists, in sorted order, the target names whose artifacts
	// this plan removes.
	Targets []string
	// Removals lists every path that would be deleted, in the same
	// target-major order as Targets.
	Removals []registry.Entry
}

// Full builds a plan covering every target the registry knows about.
func Full(reg *registry.Registry) Plan {
	return planFor(reg, reg.Names())
}

// Target builds a plan covering exactly one named target. Returns an
// empty plan if the registry has no record of it (spec §4.11: cleaning an
// unknown or never-built target is a no-op, not an error).
func Target(reg *registry.Registry, name string) Plan {
	if len(reg.Get(name)) == 0 {
		return Plan{}
	}
	return planFor(reg, []string{name})
}

// Orphans builds a plan covering every registry entry whose target name
// is not present in liveTargets — artifacts left behind by a target that
// was since removed from the manifest (spec §4.11's "stale artifact"
// case).
func Orphans(reg *registry.Registry, liveTargets map[string]bool) Plan {
	var orphaned []string
	for _, name := range reg.Names() {
		if !liveTargets[name] {
			orphaned = append(orphaned, name)
		}
	}
	sort.Strings(orphaned)
	return planFor(reg, orphaned)
}

func planFor(reg *registry.Registry, names []string) Plan {
	plan := Plan{Targets: append([]string(nil), names...)}
	for _, name := range names {
		plan.Removals = append(plan.Removals, reg.Get(name)...)
	}
	return plan
}

// Apply deletes every path in plan from disk, then removes the
// corresponding registry and state-store entries so a subsequent build
// treats those targets as never built (spec §4.3's ReasonNoPriorState).
// Apply is best-effort: a removal failure for one artifact does not stop
// cleanup of the others, every per-path error is collected and returned
// together, and the registry and state records of every planned target
// are removed even when one of its artifacts could not be deleted.
func Apply(plan Plan, reg *registry.Registry, store *statestore.Store) []error {
	var errs []error
	for _, entry := range plan.Removals {
		if err := os.RemoveAll(entry.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	for _, name := range plan.Targets {
		reg.Remove(name)
		store.Remove(name)
	}
	return errs
}
