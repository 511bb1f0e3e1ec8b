// Package manifest holds the typed, already-resolved project description
// the core consumes (spec §3, §6). Nothing in this package expands globs,
// interpolates variables, or parses the .aria build-file syntax — by the
// time a Manifest exists every one of those external concerns has already
// run.
package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/ariamake/ariamake/internal/aerr"
)

// Kind is a target's build kind (spec §3).
type Kind string

const (
	Executable    Kind = "executable"
	StaticLibrary Kind = "static_library"
	Object        Kind = "object"
	Test          Kind = "test"
	Custom        Kind = "custom"
)

var validKinds = map[Kind]bool{
	Executable:    true,
	StaticLibrary: true,
	Object:        true,
	Test:          true,
	Custom:        true,
}

// TestMode selects how `test` targets are executed; spec §6 only names
// the two values, execution itself is a CLI/front-end concern.
type TestMode string

const (
	TestModeJIT         TestMode = "jit"
	TestModeInterpreter TestMode = "interpreter"
)

// Artifact is one file or directory a target writes, tracked for surgical
// clean (spec §4.5).
type Artifact struct {
	Path string `json:"path"`
	Kind string `json:"kind"` // "file" | "directory"
}

// Target is one node of the build graph (spec §3).
type Target struct {
	Name               string     `json:"name"`
	Kind               Kind       `json:"kind"`
	Sources            []string   `json:"sources"`
	DirectDeps         []string   `json:"dependencies"`
	CompileFlags       []string   `json:"flags"`
	LinkFlags          []string   `json:"link_flags"`
	Libraries          []string   `json:"libraries"`
	LibrarySearchPaths []string   `json:"library_search_paths"`
	OutputPath         string     `json:"output"`
	ExtraArtifacts     []Artifact `json:"extra_artifacts,omitempty"`
	WorkingDir         string     `json:"working_dir,omitempty"`
}

// Project carries the whole-build metadata from spec §6.
type Project struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	TestMode TestMode `json:"test_mode,omitempty"`
}

// Manifest is the fully resolved input to the core.
type Manifest struct {
	Project Project  `json:"project"`
	Targets []Target `json:"targets"`
	// Root is the project root relative paths (working_dir defaulting)
	// are resolved against; it is not part of the wire document.
	Root string `json:"-"`
}

// Decode reads a Manifest from JSON. The document shape matches spec §6's
// manifest contract exactly: a `project` object and an ordered `targets`
// list.
func Decode(r io.Reader, root string) (*Manifest, error) {
	var m Manifest
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, aerr.Wrap(aerr.Manifest, "", err)
	}
	m.Root = root
	if m.Project.TestMode == "" {
		m.Project.TestMode = TestModeJIT
	}
	return &m, nil
}

// ByName returns a name-indexed view of the manifest's targets.
func (m *Manifest) ByName() map[string]*Target {
	out := make(map[string]*Target, len(m.Targets))
	for i := range m.Targets {
		out[m.Targets[i].Name] = &m.Targets[i]
	}
	return out
}

// Validate performs every up-front check spec §6 assigns to the core:
// unique target names, non-empty sources unless custom, unique output
// paths (including extra artifacts), valid kind, dependency names that
// resolve, and no duplicate library names.
func (m *Manifest) Validate() error {
	seenNames := make(map[string]bool, len(m.Targets))
	seenPaths := make(map[string]string, len(m.Targets))

	for _, t := range m.Targets {
		if t.Name == "" {
			return aerr.New(aerr.Manifest, "", "target has empty name")
		}
		if seenNames[t.Name] {
			return aerr.New(aerr.Manifest, t.Name, "duplicate target name")
		}
		seenNames[t.Name] = true

		if !validKinds[t.Kind] {
			return aerr.New(aerr.Manifest, t.Name, fmt.Sprintf("invalid kind %q", t.Kind))
		}
		if t.Kind != Custom && len(t.Sources) == 0 {
			return aerr.New(aerr.Manifest, t.Name, "sources must be non-empty unless kind is custom")
		}
		if t.OutputPath == "" {
			return aerr.New(aerr.Manifest, t.Name, "output path is required")
		}

		if owner, dup := seenPaths[t.OutputPath]; dup {
			return aerr.New(aerr.Manifest, t.Name, fmt.Sprintf("output path %q collides with target %q", t.OutputPath, owner))
		}
		seenPaths[t.OutputPath] = t.Name
		for _, a := range t.ExtraArtifacts {
			if owner, dup := seenPaths[a.Path]; dup {
				return aerr.New(aerr.Manifest, t.Name, fmt.Sprintf("artifact path %q collides with target %q", a.Path, owner))
			}
			seenPaths[a.Path] = t.Name
		}

		if dupLib := firstDuplicate(t.Libraries); dupLib != "" {
			return aerr.New(aerr.Manifest, t.Name, fmt.Sprintf("duplicate library name %q", dupLib))
		}
	}

	names := m.ByName()
	for _, t := range m.Targets {
		for _, dep := range t.DirectDeps {
			if _, ok := names[dep]; !ok {
				return aerr.New(aerr.Manifest, t.Name, fmt.Sprintf("unknown dependency %q", dep))
			}
		}
	}

	return nil
}

func firstDuplicate(names []string) string {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return n
		}
		seen[n] = true
	}
	return ""
}

// SortedTargetNames returns every target name in ascending order, used
// to list the available names in internal/build's unknown-target error.
func (m *Manifest) SortedTargetNames() []string {
	names := make([]string, len(m.Targets))
	for i, t := range m.Targets {
		names[i] = t.Name
	}
	sort.Strings(names)
	return names
}
