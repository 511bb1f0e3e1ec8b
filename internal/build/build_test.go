package build

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ariamake/ariamake/internal/aerr"
	"github.com/ariamake/ariamake/internal/manifest"
)

// fakeToolchain writes a compiler and archiver shell script into dir and
// returns the paths, for use as CC/AR — standing in for a real C toolchain
// so these tests exercise the full orchestration pipeline deterministically
// without depending on what's installed on the machine running them.
func fakeToolchain(t *testing.T, dir string) (cc, ar string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake toolchain scripts assume a POSIX shell")
	}

	cc = filepath.Join(dir, "fakecc")
	ccScript := `#!/bin/sh
for arg in "$@"; do
  if [ "$arg" = "--version" ]; then
    echo "fakecc 1.0"
    exit 0
  fi
  if [ "$arg" = "--emit-deps" ]; then
    src="$1"
    echo "{\"source\":\"$src\",\"imports\":[],\"error\":null}"
    exit 0
  fi
done
out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "-o" ]; then
    out="$arg"
  fi
  prev="$arg"
done
if [ -n "$out" ]; then
  mkdir -p "$(dirname "$out")"
  echo compiled > "$out"
fi
exit 0
`
	if err := os.WriteFile(cc, []byte(ccScript), 0o755); err != nil {
		t.Fatal(err)
	}

	ar = filepath.Join(dir, "fakear")
	arScript := `#!/bin/sh
shift
out="$1"
shift
mkdir -p "$(dirname "$out")"
echo archive > "$out"
exit 0
`
	if err := os.WriteFile(ar, []byte(arScript), 0o755); err != nil {
		t.Fatal(err)
	}
	return cc, ar
}

// setupProject rewrites every target's source, output, and extra-artifact
// paths to be absolute under a fresh temp dir before writing the manifest,
// so dirty analysis and the fake toolchain never read or write outside the
// test's own sandbox (internal/fsclock and internal/command take whatever
// path string the manifest gives them literally, with no root-resolution
// of their own — that's the CLI's job in production).
func setupProject(t *testing.T, m manifest.Manifest) (manifestPath, projectDir, buildDir string) {
	t.Helper()
	projectDir = t.TempDir()
	buildDir = filepath.Join(projectDir, ".ariamake")

	for i := range m.Targets {
		target := &m.Targets[i]
		for j, src := range target.Sources {
			abs := filepath.Join(projectDir, src)
			if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(abs, []byte("// source\n"), 0o644); err != nil {
				t.Fatal(err)
			}
			target.Sources[j] = abs
		}
		target.OutputPath = filepath.Join(projectDir, target.OutputPath)
		for k := range target.ExtraArtifacts {
			target.ExtraArtifacts[k].Path = filepath.Join(projectDir, target.ExtraArtifacts[k].Path)
		}
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	manifestPath = filepath.Join(projectDir, "aria.json")
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return manifestPath, projectDir, buildDir
}

func newBuild(t *testing.T, m manifest.Manifest) *Build {
	t.Helper()
	manifestPath, projectDir, buildDir := setupProject(t, m)
	cc, ar := fakeToolchain(t, projectDir)
	t.Setenv("CC", cc)
	t.Setenv("AR", ar)

	b, err := New(Config{ManifestPath: manifestPath, BuildDir: buildDir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func touch(t *testing.T, path string, when time.Time) {
	t.Helper()
	if err := os.Chtimes(path, when, when); err != nil {
		t.Fatal(err)
	}
}

func TestRunSingleExecutable(t *testing.T) {
	m := manifest.Manifest{Targets: []manifest.Target{
		{Name: "app", Kind: manifest.Executable, Sources: []string{"main.aria"}, OutputPath: "build/app"},
	}}
	b := newBuild(t, m)

	result, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Failed) != 0 {
		t.Fatalf("Failed = %v", result.Failed)
	}
	if len(result.Built) != 1 {
		t.Fatalf("Built = %v, want 1 target", result.Built)
	}
	if _, ok := b.store.Get("app"); !ok {
		t.Fatal("expected a persisted state record for app after a successful build")
	}
}

func TestRunLibraryPlusAppDiamondBuildsSharedLibOnce(t *testing.T) {
	m := manifest.Manifest{Targets: []manifest.Target{
		{Name: "core", Kind: manifest.StaticLibrary, Sources: []string{"core.aria"}, OutputPath: "build/libcore.a"},
		{Name: "libA", Kind: manifest.StaticLibrary, Sources: []string{"a.aria"}, DirectDeps: []string{"core"}, OutputPath: "build/liba.a"},
		{Name: "libB", Kind: manifest.StaticLibrary, Sources: []string{"b.aria"}, DirectDeps: []string{"core"}, OutputPath: "build/libb.a"},
		{Name: "app", Kind: manifest.Executable, Sources: []string{"app.aria"}, DirectDeps: []string{"libA", "libB"}, OutputPath: "build/app"},
	}}
	b := newBuild(t, m)

	result, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Failed) != 0 {
		t.Fatalf("Failed = %v", result.Failed)
	}
	if len(result.Built) != 4 {
		t.Fatalf("Built = %v, want all 4 targets", result.Built)
	}
	for _, name := range []string{"core", "libA", "libB", "app"} {
		if _, ok := b.store.Get(name); !ok {
			t.Fatalf("expected a persisted state record for %s", name)
		}
	}
}

func TestRunIsIdempotentOnSecondInvocation(t *testing.T) {
	m := manifest.Manifest{Targets: []manifest.Target{
		{Name: "app", Kind: manifest.Executable, Sources: []string{"main.aria"}, OutputPath: "build/app"},
	}}
	manifestPath, projectDir, buildDir := setupProject(t, m)
	cc, ar := fakeToolchain(t, projectDir)
	t.Setenv("CC", cc)
	t.Setenv("AR", ar)

	cfg := Config{ManifestPath: manifestPath, BuildDir: buildDir}

	b1, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b1.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	b2, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	result, err := b2.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Built) != 0 {
		t.Fatalf("second run with no changes must rebuild nothing, Built = %v", result.Built)
	}
}

func TestRunSourceTouchTriggersRebuildOfOnlyThatTargetAndDependents(t *testing.T) {
	m := manifest.Manifest{Targets: []manifest.Target{
		{Name: "core", Kind: manifest.StaticLibrary, Sources: []string{"core.aria"}, OutputPath: "build/libcore.a"},
		{Name: "app", Kind: manifest.Executable, Sources: []string{"app.aria"}, DirectDeps: []string{"core"}, OutputPath: "build/app"},
	}}
	manifestPath, projectDir, buildDir := setupProject(t, m)
	cc, ar := fakeToolchain(t, projectDir)
	t.Setenv("CC", cc)
	t.Setenv("AR", ar)
	cfg := Config{ManifestPath: manifestPath, BuildDir: buildDir}

	b1, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b1.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Advance the core source's mtime well past its recorded build time.
	touch(t, filepath.Join(projectDir, "core.aria"), time.Now().Add(2*time.Hour))

	b2, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	result, err := b2.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Built) != 2 {
		t.Fatalf("touching core's source must rebuild core and its dependent app, Built = %v", result.Built)
	}
}

func TestRunFlagChangeTriggersRebuild(t *testing.T) {
	m := manifest.Manifest{Targets: []manifest.Target{
		{Name: "app", Kind: manifest.Executable, Sources: []string{"main.aria"}, OutputPath: "build/app"},
	}}
	manifestPath, projectDir, buildDir := setupProject(t, m)
	cc, ar := fakeToolchain(t, projectDir)
	t.Setenv("CC", cc)
	t.Setenv("AR", ar)
	cfg := Config{ManifestPath: manifestPath, BuildDir: buildDir}

	b1, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b1.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	m.Targets[0].CompileFlags = []string{"-O3"}
	data, _ := json.Marshal(m)
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	b2, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	result, err := b2.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Built) != 1 {
		t.Fatalf("a flag change must trigger a rebuild via the command digest, Built = %v", result.Built)
	}
}

func TestRunForceRebuildsEverythingRegardlessOfDirtiness(t *testing.T) {
	m := manifest.Manifest{Targets: []manifest.Target{
		{Name: "app", Kind: manifest.Executable, Sources: []string{"main.aria"}, OutputPath: "build/app"},
	}}
	manifestPath, projectDir, buildDir := setupProject(t, m)
	cc, ar := fakeToolchain(t, projectDir)
	t.Setenv("CC", cc)
	t.Setenv("AR", ar)
	cfg := Config{ManifestPath: manifestPath, BuildDir: buildDir}

	b1, _ := New(cfg)
	if _, err := b1.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	cfg.Force = true
	b2, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	result, err := b2.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Built) != 1 {
		t.Fatalf("--force must rebuild even an up-to-date target, Built = %v", result.Built)
	}
}

func TestNewDetectsCycle(t *testing.T) {
	m := manifest.Manifest{Targets: []manifest.Target{
		{Name: "x", Kind: manifest.Executable, Sources: []string{"x.aria"}, DirectDeps: []string{"z"}, OutputPath: "build/x"},
		{Name: "y", Kind: manifest.Executable, Sources: []string{"y.aria"}, DirectDeps: []string{"x"}, OutputPath: "build/y"},
		{Name: "z", Kind: manifest.Executable, Sources: []string{"z.aria"}, DirectDeps: []string{"y"}, OutputPath: "build/z"},
	}}
	manifestPath, projectDir, buildDir := setupProject(t, m)
	cc, ar := fakeToolchain(t, projectDir)
	t.Setenv("CC", cc)
	t.Setenv("AR", ar)

	_, err := New(Config{ManifestPath: manifestPath, BuildDir: buildDir})
	if err == nil {
		t.Fatal("expected a cycle error, got nil")
	}
	if aerr.TagOf(err) != aerr.Cycle {
		t.Fatalf("TagOf(err) = %v, want aerr.Cycle", aerr.TagOf(err))
	}
}

func TestCheckReportsDirtyWithoutExecutingOrPersisting(t *testing.T) {
	m := manifest.Manifest{Targets: []manifest.Target{
		{Name: "app", Kind: manifest.Executable, Sources: []string{"main.aria"}, OutputPath: "build/app"},
	}}
	b := newBuild(t, m)

	results, err := b.Check(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Target != "app" {
		t.Fatalf("Check results = %+v, want one dirty entry for app", results)
	}
	if _, ok := b.store.Get("app"); ok {
		t.Fatal("Check must not persist any state")
	}
}

func TestCleanRemovesArtifactAndStateRecord(t *testing.T) {
	m := manifest.Manifest{Targets: []manifest.Target{
		{Name: "app", Kind: manifest.Executable, Sources: []string{"main.aria"}, OutputPath: "build/app"},
	}}
	b := newBuild(t, m)
	if _, err := b.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	plan, errs := b.Clean("app", false, false)
	if len(errs) != 0 {
		t.Fatalf("Clean errors: %v", errs)
	}
	if len(plan.Targets) != 1 || plan.Targets[0] != "app" {
		t.Fatalf("Clean plan Targets = %v, want [app]", plan.Targets)
	}
	if _, ok := b.store.Get("app"); ok {
		t.Fatal("state record for a cleaned target must be gone")
	}
}

func TestRunCompileFailureMarksSubprocessFailure(t *testing.T) {
	m := manifest.Manifest{Targets: []manifest.Target{
		{Name: "app", Kind: manifest.Executable, Sources: []string{"main.aria"}, OutputPath: "build/app"},
	}}
	manifestPath, projectDir, buildDir := setupProject(t, m)
	if runtime.GOOS == "windows" {
		t.Skip("fake toolchain scripts assume a POSIX shell")
	}
	cc := filepath.Join(projectDir, "failcc")
	os.WriteFile(cc, []byte("#!/bin/sh\nexit 1\n"), 0o755)
	ar := filepath.Join(projectDir, "fakear")
	os.WriteFile(ar, []byte("#!/bin/sh\nexit 0\n"), 0o755)
	t.Setenv("CC", cc)
	t.Setenv("AR", ar)

	b, err := New(Config{ManifestPath: manifestPath, BuildDir: buildDir})
	if err != nil {
		t.Fatal(err)
	}
	result, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("a per-target compile failure must be reported via the result, not a top-level error: %v", err)
	}
	if len(result.Failed) != 1 {
		t.Fatalf("Failed = %v, want 1", result.Failed)
	}
}
