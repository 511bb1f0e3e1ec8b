// Package depscan implements the dependency-scan shim (spec §4.10): for
// each source of a target, ask the compiler itself which modules it
// transitively imports and which assets it embeds, so those can feed the
// next build's dirty analysis and, if an import name matches another
// target, an additional graph edge.
package depscan

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ariamake/ariamake/internal/command"
	"github.com/ariamake/ariamake/internal/pal"
)

// moduleSearchPathEnv is the one opt-in environment read spec §6 names: a
// fallback module-search path, consulted only once the dependency-scan
// shim has already degraded to the lexical scanner below.
const moduleSearchPathEnv = "ARIAMAKE_MODULE_PATH"

// moduleSearchPath reads and splits moduleSearchPathEnv using the
// platform's PATH-list separator, same convention as $PATH itself.
func moduleSearchPath() []string {
	raw := os.Getenv(moduleSearchPathEnv)
	if raw == "" {
		return nil
	}
	return strings.Split(raw, string(os.PathListSeparator))
}

// resolveModule turns a dotted module name into a candidate file path
// under each search-path directory (dots become path separators, ".aria"
// appended), returning the first one that exists on disk.
func resolveModule(module string, searchPath []string) (string, bool) {
	rel := strings.ReplaceAll(module, ".", string(filepath.Separator)) + ".aria"
	for _, dir := range searchPath {
		candidate := filepath.Join(dir, rel)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

// Import is one entry of the pinned dependency-scan JSON schema (spec
// §9's Open Question, resolved): {"module": string, "path": string}.
type Import struct {
	Module string `json:"module"`
	Path   string `json:"path"`
}

// Payload is the full pinned schema:
// {"source": string, "imports": [...], "error": string|null}.
// Anything that doesn't decode into exactly this shape is rejected and
// triggers the lexical fallback, per spec §9.
type Payload struct {
	Source  string   `json:"source"`
	Imports []Import `json:"imports"`
	Error   *string  `json:"error"`
}

// Executor runs one subprocess; production code passes pal.Execute, tests
// pass a fake.
type Executor func(ctx context.Context, c command.Command, opts pal.Options) (pal.ExecResult, error)

// Result is one source file's scan outcome.
type Result struct {
	// ImplicitDeps are resolved paths that are not themselves target
	// outputs — these feed StateRecord.ImplicitDeps.
	ImplicitDeps []string
	// MatchedTargets are import module first-components that matched
	// another target's name; the caller adds a graph edge for each.
	MatchedTargets []string
	// Degraded is true when the compiler invocation failed or its
	// payload was unparseable and the lexical fallback ran instead.
	Degraded bool
}

// Scan invokes `<compiler> <source> --emit-deps` (spec §6) through exec,
// parses its pinned-schema payload, and classifies each import as either
// an implicit file dependency or a reference to another target (matched
// by the import module's first dot-separated component against
// knownTargets). On any failure to get a clean payload it falls back to
// a lexical import scan of the source text.
func Scan(ctx context.Context, exec Executor, tc command.Toolchain, workingDir, src string, knownTargets map[string]bool) Result {
	cmd := command.DepScanCommand(tc.CompilerPath, workingDir, src)
	res, err := exec(ctx, cmd, pal.Options{WorkingDir: workingDir, CaptureStdout: true, CaptureStderr: true})
	if err != nil || res.ExitCode != 0 {
		return lexicalFallback(src, knownTargets)
	}

	var payload Payload
	dec := json.NewDecoder(strings.NewReader(string(res.Stdout)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return lexicalFallback(src, knownTargets)
	}
	if payload.Error != nil {
		return lexicalFallback(src, knownTargets)
	}

	return classify(payload.Imports, knownTargets)
}

func classify(imports []Import, knownTargets map[string]bool) Result {
	var r Result
	matched := make(map[string]bool)
	for _, imp := range imports {
		first := imp.Module
		if i := strings.IndexByte(imp.Module, '.'); i >= 0 {
			first = imp.Module[:i]
		}
		if knownTargets[first] {
			if !matched[first] {
				matched[first] = true
				r.MatchedTargets = append(r.MatchedTargets, first)
			}
			continue
		}
		r.ImplicitDeps = append(r.ImplicitDeps, imp.Path)
	}
	return r
}

// importRE matches a best-effort lexical import statement: `import
// foo.bar.baz`, optionally quoted, optionally semicolon-terminated. The
// .aria grammar itself is out of this core's scope (spec §1); this is
// deliberately approximate, used only when the compiler-backed scan
// degrades.
var importRE = regexp.MustCompile(`^\s*import\s+"?([A-Za-z_][\w.]*)"?\s*;?\s*$`)

func lexicalFallback(src string, knownTargets map[string]bool) Result {
	r := Result{Degraded: true}
	f, err := os.Open(src)
	if err != nil {
		return r
	}
	defer f.Close()

	searchPath := moduleSearchPath()
	matched := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := importRE.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		module := m[1]
		first := module
		if i := strings.IndexByte(module, '.'); i >= 0 {
			first = module[:i]
		}
		if knownTargets[first] {
			if !matched[first] {
				matched[first] = true
				r.MatchedTargets = append(r.MatchedTargets, first)
			}
			continue
		}
		// A lexical scan cannot resolve an import to a concrete path the
		// way the compiler can, so an unmatched import only becomes an
		// ImplicitDep if it resolves under ARIAMAKE_MODULE_PATH; anything
		// else is simply invisible to next build's dirty check, which is
		// exactly what "degraded" warns the caller about (spec §4.10,
		// §6).
		if path, ok := resolveModule(module, searchPath); ok {
			r.ImplicitDeps = append(r.ImplicitDeps, path)
		}
	}
	return r
}
