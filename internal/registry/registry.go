// Package registry tracks every file or directory a build has ever
// written per target, so clean operations have an authoritative list to
// work from instead of guessing from naming conventions (spec §4.5).
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/renameio"
)

// EntryKind distinguishes a plain file from a directory clean must
// recurse into.
type EntryKind string

const (
	File      EntryKind = "file"
	Directory EntryKind = "directory"
)

// Entry is one artifact owned by a target.
type Entry struct {
	Path string    `json:"path"`
	Kind EntryKind `json:"kind"`
}

// Registry is the persisted target -> []Entry map. It shares the same
// mutex discipline as internal/statestore: updated by the worker that
// just finished a target, persisted alongside the state store (spec §5).
type Registry struct {
	path string

	mu      sync.Mutex
	save    sync.Mutex
	entries map[string][]Entry

	Warnf func(format string, args ...any)
}

// Load reads the registry document at path, tolerating a missing or
// malformed file exactly like internal/statestore.
func Load(path string) *Registry {
	r := &Registry{
		path:    path,
		entries: make(map[string][]Entry),
		Warnf:   func(string, ...any) {},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.Warnf("registry: could not read %s: %v (starting empty)", path, err)
		}
		return r
	}

	var entries map[string][]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		r.Warnf("registry: %s is malformed: %v (starting empty)", path, err)
		return r
	}
	r.entries = entries
	return r
}

// Set replaces the artifact list for name. A target's worker calls this
// exactly once, after it finishes successfully, with every file or
// directory it wrote this build.
func (r *Registry) Set(name string, entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := append([]Entry(nil), entries...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Path < cp[j].Path })
	r.entries[name] = cp
}

// Get returns the artifact list registered for name.
func (r *Registry) Get(name string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries[name]...)
}

// Remove deletes the registry entry for name (after a clean has deleted
// the underlying files).
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Names returns every target name with registered artifacts.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered artifact across every target — the
// authoritative superset clean operations and orphan detection work
// from (spec §4.5's post-build invariant).
func (r *Registry) All() map[string][]Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]Entry, len(r.entries))
	for name, entries := range r.entries {
		out[name] = append([]Entry(nil), entries...)
	}
	return out
}

// Save persists the registry, atomically, alongside the state store.
func (r *Registry) Save() error {
	r.save.Lock()
	defer r.save.Unlock()

	r.mu.Lock()
	data, err := json.MarshalIndent(r.entries, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}

	t, err := renameio.TempFile("", r.path)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	if _, err := t.Write(data); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
