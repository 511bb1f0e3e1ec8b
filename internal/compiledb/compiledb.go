// Package compiledb emits a JSON compilation database describing every
// compile invocation in the build, for LSP and IDE tooling consumption
// (spec §4.12). Only the output contract is this core's concern; anything
// an editor does with the file is out of scope.
package compiledb

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/renameio"

	"github.com/ariamake/ariamake/internal/command"
	"github.com/ariamake/ariamake/internal/graph"
	"github.com/ariamake/ariamake/internal/manifest"
)

// Entry is one compile-commands.json record: directory, one source file,
// and the full argv that compiles it rendered as a single string — each
// argument individually JSON-string-escaped, then space-joined, exactly
// as spec §4.12 specifies (not the clang-extension "arguments" array
// form, which would let an editor skip the escaping spec.md spells out).
type Entry struct {
	Directory string `json:"directory"`
	File      string `json:"file"`
	Command   string `json:"command"`
	Output    string `json:"output"`
}

// renderCommand joins binary+args into the command string spec §4.12
// requires: each argument JSON-string-escaped (so embedded spaces or
// quotes survive a naive split), then joined with a single space.
func renderCommand(binary string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, strconv.Quote(binary))
	for _, a := range args {
		parts = append(parts, strconv.Quote(a))
	}
	return strings.Join(parts, " ")
}

// Build walks g in order (the canonical topological order from
// graph.TopologicalOrder, independent of dirtiness — spec §4.12 wants a
// complete database, not just this build's work) and returns one Entry
// per source file of every compilable target, sorted by source path for
// a deterministic, diffable file.
func Build(g *graph.Graph, order []graph.NodeID, tc command.Toolchain, buildDir, root string, includeRoots []string) []Entry {
	var entries []Entry
	for _, id := range order {
		node := g.Node(id)
		t := node.Target
		if t.Kind == manifest.Custom {
			continue
		}
		cmds := command.CompileCommands(t, tc, buildDir, includeRoots)
		for i, src := range t.Sources {
			dir := t.WorkingDir
			if dir == "" {
				dir = root
			}
			entries = append(entries, Entry{
				Directory: dir,
				File:      src,
				Command:   renderCommand(cmds[i].Binary, cmds[i].Args),
				Output:    command.ObjectPath(buildDir, t.Name, src),
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].File < entries[j].File })
	return entries
}

// Write serializes entries as a JSON array and atomically replaces path,
// matching the write discipline of internal/statestore and
// internal/registry.
func Write(path string, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	t, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	if _, err := t.Write(data); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
