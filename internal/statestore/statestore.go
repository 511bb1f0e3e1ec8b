// Package statestore persists per-target StateRecords between builds
// (spec §4.4). Loads tolerate a missing or malformed file; saves are
// atomic write-then-rename so a killed build never leaves a partially
// written document observable.
package statestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio"
)

// schemaVersion is bumped whenever the digest algorithm or record shape
// changes in a way that makes old records unsafe to trust (spec §9's
// Open Question on the FNV-1a vs SHA-256 digest choice).
const schemaVersion = 1

// StateRecord is the persisted record for one target (spec §3).
type StateRecord struct {
	OutputPath        string           `json:"output_path"`
	CommandDigest     uint64           `json:"command_digest"`
	LastBuiltAt       int64            `json:"last_built_at"`
	SourceStamps      map[string]int64 `json:"source_stamps"`
	ImplicitDeps      map[string]int64 `json:"implicit_deps"`
	DependencyOutputs []string         `json:"dependency_outputs"`
	ToolchainPath     string           `json:"toolchain_path"`
	ToolchainVersion  string           `json:"toolchain_version"`
}

// Clone returns a deep-enough copy safe to hand to a caller without
// aliasing the store's internal maps.
func (r *StateRecord) Clone() *StateRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.SourceStamps = cloneMap(r.SourceStamps)
	out.ImplicitDeps = cloneMap(r.ImplicitDeps)
	out.DependencyOutputs = append([]string(nil), r.DependencyOutputs...)
	return &out
}

func cloneMap(m map[string]int64) map[string]int64 {
	if m == nil {
		return nil
	}
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type document struct {
	Version int                     `json:"version"`
	Records map[string]*StateRecord `json:"records"`
}

// Store is the in-memory view of the build-state document plus its
// persistence path. Record reads happen single-threaded before any
// worker starts; record updates happen under mu, one worker at a time,
// each after it finishes a target successfully (spec §4.4, §5).
type Store struct {
	path string

	mu   sync.Mutex // guards doc.Records updates
	save sync.Mutex // serializes Save, separate from mu per spec §5

	doc document

	// Warnf receives non-fatal diagnostics (malformed state file,
	// schema mismatch). Defaults to a no-op; Load installs that default
	// before it reads, so the warnings Load itself issues are not shown.
	Warnf func(format string, args ...any)
}

// Load reads the state document at path. A missing file, malformed JSON,
// or schema-version mismatch all produce an empty store — never a fatal
// error (spec §4.4: "never aborts the build"). The cause of an unreadable
// or rejected file goes to the no-op default Warnf and is not shown.
func Load(path string) *Store {
	s := &Store{
		path:  path,
		doc:   document{Version: schemaVersion, Records: make(map[string]*StateRecord)},
		Warnf: func(string, ...any) {},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.Warnf("state: could not read %s: %v (starting with empty state)", path, err)
		}
		return s
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.Warnf("state: %s is malformed: %v (starting with empty state)", path, err)
		return s
	}
	if doc.Version != schemaVersion {
		s.Warnf("state: %s has schema version %d, expected %d (starting with empty state)", path, doc.Version, schemaVersion)
		return s
	}
	if doc.Records == nil {
		doc.Records = make(map[string]*StateRecord)
	}
	s.doc = doc
	return s
}

// Get returns a copy of the record for name, and whether one existed.
func (s *Store) Get(name string) (*StateRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Records[name]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Update installs rec as the new record for name. Callers must only call
// this after successfully finishing a build of that target.
func (s *Store) Update(name string, rec *StateRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Records[name] = rec.Clone()
}

// Remove deletes the record for name, used by the clean lifecycle
// (spec §4.11) to keep the store consistent with the artifact registry.
func (s *Store) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Records, name)
}

// Names returns every target name with a persisted record, in no
// particular order.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.doc.Records))
	for name := range s.doc.Records {
		names = append(names, name)
	}
	return names
}

// Save serializes the current document to a temp file beside path, then
// renames it into place — the only commit point, so no partial document
// is ever observable (spec §4.4).
func (s *Store) Save() error {
	s.save.Lock()
	defer s.save.Unlock()

	s.mu.Lock()
	data, err := json.MarshalIndent(s.doc, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	t, err := renameio.TempFile("", s.path)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	if _, err := t.Write(data); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
