// Package build owns the top-level orchestration spec §9 describes: one
// explicitly constructed Build object per invocation (no package-level
// globals) that wires the manifest, graph, dirty analysis, scheduler,
// state store, artifact registry, and compilation database together into
// the single `manifest -> graph -> validate -> analyze -> schedule ->
// persist -> emit` pipeline.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ariamake/ariamake/internal/aerr"
	"github.com/ariamake/ariamake/internal/clean"
	"github.com/ariamake/ariamake/internal/command"
	"github.com/ariamake/ariamake/internal/compiledb"
	"github.com/ariamake/ariamake/internal/cycle"
	"github.com/ariamake/ariamake/internal/depscan"
	"github.com/ariamake/ariamake/internal/dirty"
	"github.com/ariamake/ariamake/internal/fsclock"
	"github.com/ariamake/ariamake/internal/graph"
	"github.com/ariamake/ariamake/internal/manifest"
	"github.com/ariamake/ariamake/internal/pal"
	"github.com/ariamake/ariamake/internal/registry"
	"github.com/ariamake/ariamake/internal/scheduler"
	"github.com/ariamake/ariamake/internal/statestore"
)

// Config configures one Build. Jobs <= 0 defaults to runtime.NumCPU (via
// internal/pool). IncludeRoots is passed through to command synthesis
// unchanged; library search paths come from each target's manifest entry.
type Config struct {
	ManifestPath string
	BuildDir     string
	Jobs         int
	FailFast     bool
	Force        bool
	IncludeRoots []string
	Timeout      time.Duration
	Warnf        func(format string, args ...any)
	Progress     scheduler.Progress
	// Only, if non-empty, restricts the build to these target names plus
	// their transitive dependencies (the `build [targets...]` CLI form).
	// An empty Only builds every dirty target, same as omitting targets
	// entirely.
	Only []string
}

// Build is one constructed, runnable build. It is created fresh for every
// CLI invocation and discarded at the end — nothing about it is process
// global (spec §9).
type Build struct {
	cfg       Config
	manifest  *manifest.Manifest
	graph     *graph.Graph
	store     *statestore.Store
	registry  *registry.Registry
	toolchain command.Toolchain
	platform  command.Platform
	runID     string

	mu          sync.Mutex
	forcedPaths map[string]bool
}

// RunID returns a UUID generated fresh for this Build, unique per
// invocation. The CLI threads it through --verbose log lines so that
// overlapping or back-to-back invocations' progress output can be told
// apart in saved logs (spec §9's "one explicitly constructed Build object
// per invocation" carries over to a per-invocation identity, not just
// per-invocation state).
func (b *Build) RunID() string { return b.runID }

func statePath(buildDir string) string    { return filepath.Join(buildDir, "state.json") }
func registryPath(buildDir string) string { return filepath.Join(buildDir, "registry.json") }
func compiledbPath(buildDir string) string {
	return filepath.Join(buildDir, "compile_commands.json")
}

// New loads and validates the manifest, constructs the dependency graph,
// runs cycle validation, and discovers the toolchain. It does not run
// dirty analysis or schedule anything — that happens in Run, so a caller
// can inspect the graph (e.g. for `check`) without committing to a build.
func New(cfg Config) (*Build, error) {
	if cfg.Warnf == nil {
		cfg.Warnf = func(string, ...any) {}
	}
	if cfg.BuildDir == "" {
		cfg.BuildDir = ".ariamake"
	}

	f, err := os.Open(cfg.ManifestPath)
	if err != nil {
		return nil, aerr.Wrap(aerr.Manifest, "", err)
	}
	defer f.Close()

	root := filepath.Dir(cfg.ManifestPath)
	m, err := manifest.Decode(f, root)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	g, err := graph.BuildFromManifest(m)
	if err != nil {
		return nil, err
	}
	if err := cycle.Validate(g); err != nil {
		return nil, err
	}
	g.ResetRuntimeState()

	compilerPath := findCompiler()
	if compilerPath == "" {
		return nil, aerr.New(aerr.ToolchainMissing, "", "no C/C++ compiler found on PATH and CC is not set")
	}
	archiverPath := findArchiver()
	if archiverPath == "" {
		return nil, aerr.New(aerr.ToolchainMissing, "", "no archiver found on PATH and AR is not set")
	}

	version := probeVersion(compilerPath)

	return &Build{
		cfg:         cfg,
		manifest:    m,
		graph:       g,
		store:       statestore.Load(statePath(cfg.BuildDir)),
		registry:    registry.Load(registryPath(cfg.BuildDir)),
		toolchain:   command.Toolchain{CompilerPath: compilerPath, ArchiverPath: archiverPath, Version: version},
		platform:    command.HostPlatform(),
		runID:       uuid.NewString(),
		forcedPaths: make(map[string]bool),
	}, nil
}

func probeVersion(compilerPath string) string {
	res, err := pal.Execute(context.Background(), command.VersionCommand(compilerPath), pal.Options{CaptureStdout: true, CaptureStderr: true, Timeout: 5 * time.Second})
	if err != nil {
		return ""
	}
	out := strings.TrimSpace(string(res.Stdout))
	if out == "" {
		out = strings.TrimSpace(string(res.Stderr))
	}
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}
	return out
}

// Graph exposes the constructed dependency graph, for `check` and the
// compilation-database-only path.
func (b *Build) Graph() *graph.Graph { return b.graph }

// Invalidate is the one concession to an external filesystem watcher
// (spec §9's Open Question): it records that the given paths changed, so
// the next Run treats every target whose sources include one of them as
// dirty regardless of what their mtimes say, without discarding any
// other persisted state.
func (b *Build) Invalidate(paths []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range paths {
		b.forcedPaths[p] = true
	}
}

// Run executes one full build pass: dependency-scan pre-pass, dirty
// analysis, parallel scheduling, state/registry persistence, and
// compilation-database emission.
func (b *Build) Run(ctx context.Context) (scheduler.Result, error) {
	order, err := b.graph.TopologicalOrder()
	if err != nil {
		return scheduler.Result{}, err
	}

	knownTargets := make(map[string]bool, b.graph.NumNodes())
	for _, n := range b.graph.AllNodes() {
		knownTargets[n.Target.Name] = true
	}

	scanResults := b.runDepScanPrePass(ctx, order, knownTargets)

	// Edges may have been added by the pre-pass; recompute the canonical
	// order and runtime in-degrees before analysis (spec §4.10: new
	// edges must land before scheduling submits the affected node).
	b.graph.ResetRuntimeState()
	order, err = b.graph.TopologicalOrder()
	if err != nil {
		return scheduler.Result{}, err
	}
	if err := cycle.Validate(b.graph); err != nil {
		return scheduler.Result{}, err
	}

	b.mu.Lock()
	forced := b.forcedPaths
	b.forcedPaths = make(map[string]bool)
	b.mu.Unlock()

	for _, id := range order {
		node := b.graph.Node(id)
		node.CommandDigest = b.digestFor(node.Target)
	}

	digestOf := func(id graph.NodeID) uint64 { return b.graph.Node(id).CommandDigest }
	toolchainOf := func(graph.NodeID) (string, string) { return b.toolchain.CompilerPath, b.toolchain.Version }

	force := b.cfg.Force
	analysis := dirty.Analyze(b.graph, order, b.store, digestOf, toolchainOf, force)
	if len(forced) > 0 {
		forceDirtyForPaths(b.graph, order, analysis, forced)
	}

	dirtySet := make(map[graph.NodeID]bool, len(analysis))
	for id, a := range analysis {
		if a.Dirty {
			dirtySet[id] = true
		} else {
			b.graph.Node(id).SetStatus(graph.SkippedUpToDate)
		}
	}

	if len(b.cfg.Only) > 0 {
		keep, err := b.closureOf(b.cfg.Only)
		if err != nil {
			return scheduler.Result{}, err
		}
		for id := range dirtySet {
			if !keep[id] {
				delete(dirtySet, id)
			}
		}
	}

	policy := scheduler.ContinueIndependent
	if b.cfg.FailFast {
		policy = scheduler.FailFast
	}

	exec := func(ctx context.Context, id graph.NodeID) error {
		return b.buildOne(ctx, id, scanResults[id])
	}

	result := scheduler.Run(ctx, b.graph, dirtySet, b.cfg.Jobs, policy, exec, b.cfg.Progress)

	if err := b.store.Save(); err != nil {
		b.cfg.Warnf("state: failed to save: %v", err)
	}
	if err := b.registry.Save(); err != nil {
		b.cfg.Warnf("registry: failed to save: %v", err)
	}
	if err := b.emitCompileDB(order); err != nil {
		b.cfg.Warnf("compiledb: failed to write: %v", err)
	}

	return result, nil
}

// forceDirtyForPaths marks dirty every node whose sources intersect
// forced, then walks order leaves-first so the dirtiness reaches every
// transitive dependent — a subsequent Analyze call is not needed since
// Invalidate only ever adds dirtiness, never removes it.
func forceDirtyForPaths(g *graph.Graph, order []graph.NodeID, analysis map[graph.NodeID]dirty.Analysis, forced map[string]bool) {
	changed := make(map[graph.NodeID]bool)
	for _, id := range order {
		node := g.Node(id)
		for _, src := range node.Target.Sources {
			if forced[src] {
				changed[id] = true
				break
			}
		}
	}
	for id := range changed {
		g.Node(id).SetDirty(true)
		analysis[id] = dirty.Analysis{Dirty: true, Reason: dirty.ReasonForced}
	}
	for i := 0; i < len(order); i++ {
		id := order[i]
		if !g.Node(id).Dirty() {
			continue
		}
		for _, depID := range g.Node(id).Dependents() {
			dep := g.Node(depID)
			if !dep.Dirty() {
				dep.SetDirty(true)
				analysis[depID] = dirty.Analysis{Dirty: true, Reason: dirty.ReasonDependencyDirty}
			}
		}
	}
}

// closureOf returns every node reachable from names via dependency edges,
// including the named nodes themselves.
func (b *Build) closureOf(names []string) (map[graph.NodeID]bool, error) {
	keep := make(map[graph.NodeID]bool)
	var queue []graph.NodeID
	for _, name := range names {
		n, ok := b.graph.NodeByName(name)
		if !ok {
			available := strings.Join(b.manifest.SortedTargetNames(), ", ")
			return nil, aerr.New(aerr.Manifest, name, fmt.Sprintf("unknown target %q (available: %s)", name, available))
		}
		if !keep[n.ID] {
			keep[n.ID] = true
			queue = append(queue, n.ID)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, depID := range b.graph.Node(id).Dependencies() {
			if !keep[depID] {
				keep[depID] = true
				queue = append(queue, depID)
			}
		}
	}
	return keep, nil
}

// CheckResult is what `check` reports: the targets that would build, in
// order, and the commands each would run, without running anything or
// persisting any state.
type CheckResult struct {
	Target   string
	Reason   dirty.Reason
	Commands []command.Command
}

// Check runs dependency scanning and dirty analysis exactly like Run, but
// never executes a build command (only the pre-pass's `--emit-deps`
// scans) and never writes state, registry, or
// compiledb. Any edges the dependency-scan pre-pass adds are left in the
// graph — they are the same edges a subsequent Run would discover, so
// leaving them is harmless and avoids re-invoking the compiler twice.
func (b *Build) Check(ctx context.Context) ([]CheckResult, error) {
	order, err := b.graph.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	knownTargets := make(map[string]bool, b.graph.NumNodes())
	for _, n := range b.graph.AllNodes() {
		knownTargets[n.Target.Name] = true
	}
	_ = b.runDepScanPrePass(ctx, order, knownTargets)

	b.graph.ResetRuntimeState()
	order, err = b.graph.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	for _, id := range order {
		node := b.graph.Node(id)
		node.CommandDigest = b.digestFor(node.Target)
	}

	digestOf := func(id graph.NodeID) uint64 { return b.graph.Node(id).CommandDigest }
	toolchainOf := func(graph.NodeID) (string, string) { return b.toolchain.CompilerPath, b.toolchain.Version }
	analysis := dirty.Analyze(b.graph, order, b.store, digestOf, toolchainOf, b.cfg.Force)

	var results []CheckResult
	for _, id := range order {
		a := analysis[id]
		if !a.Dirty {
			continue
		}
		t := b.graph.Node(id).Target
		results = append(results, CheckResult{Target: t.Name, Reason: a.Reason, Commands: b.commandsFor(t)})
	}
	return results, nil
}

func (b *Build) digestFor(t *manifest.Target) uint64 {
	cmds := b.commandsFor(t)
	return command.DigestAll(cmds)
}

func (b *Build) commandsFor(t *manifest.Target) []command.Command {
	if t.Kind == manifest.Custom {
		return nil
	}

	if t.Kind == manifest.Object {
		// An object target's single compiled source IS the final
		// artifact, so it compiles straight to OutputPath rather than
		// the usual buildDir-scoped intermediate path.
		args := make([]string, 0, len(b.cfg.IncludeRoots)+len(t.CompileFlags)+4)
		args = append(args, t.Sources[0], "-o", t.OutputPath)
		for _, inc := range b.cfg.IncludeRoots {
			args = append(args, "-I"+inc)
		}
		args = append(args, t.CompileFlags...)
		return []command.Command{{Binary: b.toolchain.CompilerPath, Args: args, WorkingDir: t.WorkingDir}}
	}

	cmds := command.CompileCommands(t, b.toolchain, b.cfg.BuildDir, b.cfg.IncludeRoots)
	switch t.Kind {
	case manifest.StaticLibrary:
		objects := objectsFor(t, b.cfg.BuildDir)
		cmds = append(cmds, command.ArchiveCommand(t, b.toolchain, objects))
	case manifest.Executable, manifest.Test:
		id, _ := b.graph.NodeByName(t.Name)
		objects := objectsFor(t, b.cfg.BuildDir)
		depOutputs, searchPaths := b.dependencyOutputsAndSearchPaths(t)
		transitiveLibs := b.graph.CollectTransitiveLibraries(id)
		cmds = append(cmds, command.LinkCommand(t, b.toolchain, b.platform, objects, depOutputs, searchPaths, transitiveLibs))
	}
	return cmds
}

func objectsFor(t *manifest.Target, buildDir string) []string {
	objs := make([]string, len(t.Sources))
	for i, src := range t.Sources {
		objs[i] = command.ObjectPath(buildDir, t.Name, src)
	}
	return objs
}

func (b *Build) dependencyOutputsAndSearchPaths(t *manifest.Target) ([]string, []string) {
	var outputs []string
	searchPaths := append([]string(nil), t.LibrarySearchPaths...)
	for _, depName := range t.DirectDeps {
		dep, ok := b.manifest.ByName()[depName]
		if !ok {
			continue
		}
		if dep.Kind == manifest.StaticLibrary {
			outputs = append(outputs, dep.OutputPath)
			searchPaths = append(searchPaths, filepath.Dir(dep.OutputPath))
		}
	}
	return outputs, searchPaths
}

// buildOne compiles, then archives or links, a single dirty target, and
// records the resulting StateRecord and registry entries on success.
func (b *Build) buildOne(ctx context.Context, id graph.NodeID, scan targetScan) error {
	node := b.graph.Node(id)
	t := node.Target

	if t.Kind == manifest.Custom {
		// Custom targets have no sources and no synthesized command, so
		// there is nothing for dirty analysis to compare next time
		// unless a record exists at all — persist a minimal one now so
		// a custom target isn't rebuilt on every single invocation.
		now := fsclock.Ticks(time.Now())
		node.LastBuiltAt = now
		b.store.Update(t.Name, &statestore.StateRecord{
			OutputPath:       t.OutputPath,
			CommandDigest:    node.CommandDigest,
			LastBuiltAt:      now,
			ToolchainPath:    b.toolchain.CompilerPath,
			ToolchainVersion: b.toolchain.Version,
		})
		entries := []registry.Entry{{Path: t.OutputPath, Kind: registry.File}}
		for _, a := range t.ExtraArtifacts {
			entries = append(entries, registry.Entry{Path: a.Path, Kind: registry.EntryKind(a.Kind)})
		}
		b.registry.Set(t.Name, entries)
		return nil
	}

	ctx2 := ctx
	var cancel context.CancelFunc
	if b.cfg.Timeout > 0 {
		ctx2, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	cmds := b.commandsFor(t)
	for _, c := range cmds {
		if err := ctx.Err(); err != nil {
			return aerr.Wrap(aerr.Cancelled, t.Name, err)
		}
		res, err := pal.Execute(ctx2, c, pal.Options{WorkingDir: t.WorkingDir, CaptureStdout: true, CaptureStderr: true})
		if err != nil {
			return aerr.Wrap(aerr.SubprocessFailure, t.Name, err)
		}
		if res.TimedOut {
			return aerr.New(aerr.Timeout, t.Name, fmt.Sprintf("%s timed out after %s", c.Binary, res.Wall))
		}
		if res.ExitCode != 0 {
			return &aerr.Error{Tag: aerr.SubprocessFailure, Target: t.Name, Detail: fmt.Sprintf("%s exited %d: %s", c.Binary, res.ExitCode, strings.TrimSpace(string(res.Stderr)))}
		}
	}

	now := fsclock.Ticks(time.Now())
	node.LastBuiltAt = now

	sourceStamps := make(map[string]int64, len(t.Sources))
	for _, src := range t.Sources {
		ticks, err := fsclock.Stat(src)
		if err != nil {
			return aerr.Wrap(aerr.IO, t.Name, err)
		}
		sourceStamps[src] = ticks
	}

	depOutputs, _ := b.dependencyOutputsAndSearchPaths(t)

	rec := &statestore.StateRecord{
		OutputPath:        t.OutputPath,
		CommandDigest:     node.CommandDigest,
		LastBuiltAt:       now,
		SourceStamps:      sourceStamps,
		ImplicitDeps:      scan.implicitDeps,
		DependencyOutputs: depOutputs,
		ToolchainPath:     b.toolchain.CompilerPath,
		ToolchainVersion:  b.toolchain.Version,
	}
	b.store.Update(t.Name, rec)

	entries := []registry.Entry{{Path: t.OutputPath, Kind: registry.File}}
	for _, a := range t.ExtraArtifacts {
		entries = append(entries, registry.Entry{Path: a.Path, Kind: registry.EntryKind(a.Kind)})
	}
	switch t.Kind {
	case manifest.StaticLibrary, manifest.Executable, manifest.Test:
		for _, obj := range objectsFor(t, b.cfg.BuildDir) {
			entries = append(entries, registry.Entry{Path: obj, Kind: registry.File})
		}
	}
	b.registry.Set(t.Name, entries)

	return nil
}

// targetScan is the dependency-scan outcome for one target, aggregated
// across every one of its sources.
type targetScan struct {
	implicitDeps map[string]int64
	degraded     bool
}

// scanOutcome is one target's aggregated scan result, collected by a
// runDepScanPrePass goroutine and applied to the graph afterward.
type scanOutcome struct {
	id      graph.NodeID
	target  string
	agg     targetScan
	matched []string
}

// runDepScanPrePass fans a compiler `--emit-deps` invocation for every
// dirty-candidate target's sources out across goroutines, bounded to
// Config.Jobs (the same concurrency the scheduler itself is about to use)
// via errgroup.Group.SetLimit — the scan itself is the slow part (one
// subprocess per source) and every target's scan is independent of every
// other's, so there is no reason to serialize them (spec §9's DOMAIN
// STACK wiring of golang.org/x/sync/errgroup into this shim). What must
// stay serial is
// the graph mutation: edges discovered by a scan (spec §4.10's "import
// matches another target's name") are applied one at a time, after every
// goroutine has returned, so this is still the only point at which the
// graph is mutated and it happens without racing the concurrent readers
// the scheduler spawns afterward (spec §9's "safe to read without locks
// once construction finishes" invariant).
func (b *Build) runDepScanPrePass(ctx context.Context, order []graph.NodeID, knownTargets map[string]bool) map[graph.NodeID]targetScan {
	var mu sync.Mutex
	var outcomes []scanOutcome

	eg, egCtx := errgroup.WithContext(ctx)
	jobs := b.cfg.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	eg.SetLimit(jobs)
	for _, id := range order {
		node := b.graph.Node(id)
		t := node.Target
		if t.Kind == manifest.Custom {
			continue
		}

		eg.Go(func() error {
			agg := targetScan{implicitDeps: make(map[string]int64)}
			var matched []string
			for _, src := range t.Sources {
				res := depscan.Scan(egCtx, pal.Execute, b.toolchain, t.WorkingDir, src, knownTargets)
				agg.degraded = agg.degraded || res.Degraded
				for _, path := range res.ImplicitDeps {
					ticks, err := fsclock.Stat(path)
					if err != nil {
						continue
					}
					agg.implicitDeps[path] = ticks
				}
				matched = append(matched, res.MatchedTargets...)
			}
			mu.Lock()
			outcomes = append(outcomes, scanOutcome{id: id, target: t.Name, agg: agg, matched: matched})
			mu.Unlock()
			return nil
		})
	}
	// depscan.Scan never itself returns an error (it degrades to the
	// lexical fallback instead), so eg.Wait() only ever reports a ctx
	// cancellation; errgroup here is purely a concurrency bound, not a
	// fail-fast fan-in.
	_ = eg.Wait()

	results := make(map[graph.NodeID]targetScan, len(order))
	for _, o := range outcomes {
		for _, targetName := range o.matched {
			if targetName == o.target {
				continue
			}
			if err := b.graph.AddEdge(o.target, targetName); err != nil {
				b.cfg.Warnf("depscan: %s: %v", o.target, err)
			}
		}
		if o.agg.degraded {
			b.cfg.Warnf("depscan: %s: degraded to lexical fallback", o.target)
		}
		results[o.id] = o.agg
	}
	return results
}

func (b *Build) emitCompileDB(order []graph.NodeID) error {
	entries := compiledb.Build(b.graph, order, b.toolchain, b.cfg.BuildDir, b.manifest.Root, b.cfg.IncludeRoots)
	return compiledb.Write(compiledbPath(b.cfg.BuildDir), entries)
}

// Clean removes every artifact the registry knows about for the given
// target name ("" means every target), or every orphaned artifact when
// orphansOnly is set. dryRun returns the plan without touching disk.
func (b *Build) Clean(target string, orphansOnly, dryRun bool) (clean.Plan, []error) {
	var plan clean.Plan
	switch {
	case orphansOnly:
		live := make(map[string]bool, b.graph.NumNodes())
		for _, n := range b.graph.AllNodes() {
			live[n.Target.Name] = true
		}
		plan = clean.Orphans(b.registry, live)
	case target != "":
		plan = clean.Target(b.registry, target)
	default:
		plan = clean.Full(b.registry)
	}

	if dryRun {
		return plan, nil
	}

	errs := clean.Apply(plan, b.registry, b.store)
	if err := b.registry.Save(); err != nil {
		errs = append(errs, err)
	}
	if err := b.store.Save(); err != nil {
		errs = append(errs, err)
	}
	return plan, errs
}
