// Package command translates a target plus toolchain information into the
// argv(s) needed to build it, and computes the stable digest used to
// detect flag/toolchain changes (spec §4.6).
package command

import (
	"fmt"
	"hash/fnv"
	"path/filepath"
	"runtime"

	"github.com/ariamake/ariamake/internal/manifest"
)

// Platform selects the linker flag convention: ELF-style (-L/-l) or
// PE/COFF-style (.lib name plus /LIBPATH:). Spec §4.6.
type Platform int

const (
	PlatformELF Platform = iota
	PlatformPECOFF
)

// HostPlatform reports the convention for the platform this process runs
// on. Command synthesis always takes an explicit Platform, this is only
// the default the CLI wires in.
func HostPlatform() Platform {
	if runtime.GOOS == "windows" {
		return PlatformPECOFF
	}
	return PlatformELF
}

// Toolchain is the resolved compiler/archiver for one build (spec §3's
// ToolchainInfo plus the archiver path the spec's archive contract needs).
type Toolchain struct {
	CompilerPath string
	ArchiverPath string
	Version      string // trimmed stdout of `<compiler> --version`
}

// Command is one argv this core will execute through the PAL.
type Command struct {
	Binary     string
	Args       []string
	WorkingDir string
}

// digestSeparator is the non-printable byte placed between every
// argument (and between commands in DigestAll) so that e.g. ["-a", "b"]
// and ["-ab"] never collide (spec §4.6).
const digestSeparator = 0x1f

// Digest computes the persisted FNV-1a digest of a single command: the
// binary name followed by each argument in order. FNV-1a is mandated
// over a platform hash or a cryptographic hash because the digest is
// persisted across runs and must be stable across platforms and
// implementations (spec §4.6, §9).
func Digest(c Command) uint64 {
	h := fnv.New64a()
	write(h, c.Binary)
	for _, a := range c.Args {
		write(h, a)
	}
	return h.Sum64()
}

// DigestAll folds the per-command Digest of every command in cmds into
// one value, in order, so a multi-step target (compile each source, then
// archive) changes its digest if any one step's argv changes.
func DigestAll(cmds []Command) uint64 {
	h := fnv.New64a()
	for _, c := range cmds {
		write(h, fmt.Sprintf("%x", Digest(c)))
	}
	return h.Sum64()
}

func write(h interface{ Write([]byte) (int, error) }, s string) {
	h.Write([]byte(s))
	h.Write([]byte{digestSeparator})
}

// ObjectPath returns the per-target intermediate object path for src,
// rooted under buildDir/<target>.objs/.
func ObjectPath(buildDir, targetName, src string) string {
	rel := filepath.Base(src)
	return filepath.Join(buildDir, targetName+".objs", rel+".o")
}

// CompileCommands returns one compile command per source in t, for
// `executable`, `object`, and `static_library` targets — the object
// emission contract of spec §6: `<compiler> <source> -o <obj> [-I dir]*
// [<flag>]*`.
func CompileCommands(t *manifest.Target, tc Toolchain, buildDir string, includeRoots []string) []Command {
	cmds := make([]Command, 0, len(t.Sources))
	for _, src := range t.Sources {
		args := make([]string, 0, len(includeRoots)+len(t.CompileFlags)+4)
		args = append(args, src, "-o", ObjectPath(buildDir, t.Name, src))
		for _, inc := range includeRoots {
			args = append(args, "-I"+inc)
		}
		args = append(args, t.CompileFlags...)
		cmds = append(cmds, Command{
			Binary:     tc.CompilerPath,
			Args:       args,
			WorkingDir: t.WorkingDir,
		})
	}
	return cmds
}

// ArchiveCommand returns the `<archiver> rcs <output.a> <obj>…` command
// for a static_library target (spec §6).
func ArchiveCommand(t *manifest.Target, tc Toolchain, objects []string) Command {
	args := make([]string, 0, len(objects)+2)
	args = append(args, "rcs", t.OutputPath)
	args = append(args, objects...)
	return Command{Binary: tc.ArchiverPath, Args: args, WorkingDir: t.WorkingDir}
}

// LinkCommand returns the executable-link command for t. transitiveLibs
// is already in the breadth-first sorted order from the dependency graph
// (spec §4.1, §4.6); librarySearchPaths and depOutputs (the already-built
// archive paths of t's library dependencies) are used in the order given.
func LinkCommand(t *manifest.Target, tc Toolchain, plat Platform, objects, depOutputs, librarySearchPaths, transitiveLibs []string) Command {
	args := make([]string, 0, len(objects)+len(depOutputs)+len(transitiveLibs)*2+4)
	args = append(args, objects...)
	args = append(args, depOutputs...)
	args = append(args, "-o", t.OutputPath)
	args = append(args, t.LinkFlags...)

	switch plat {
	case PlatformPECOFF:
		for _, dir := range librarySearchPaths {
			args = append(args, "/LIBPATH:"+dir)
		}
		for _, lib := range transitiveLibs {
			args = append(args, lib+".lib")
		}
	default: // ELF
		for _, dir := range librarySearchPaths {
			args = append(args, "-L"+dir)
		}
		for _, lib := range transitiveLibs {
			args = append(args, "-l"+lib)
		}
	}

	return Command{Binary: tc.CompilerPath, Args: args, WorkingDir: t.WorkingDir}
}

// VersionCommand returns the `<compiler> --version` self-report command
// (spec §6).
func VersionCommand(compilerPath string) Command {
	return Command{Binary: compilerPath, Args: []string{"--version"}}
}

// DepScanCommand returns the `<compiler> <source> --emit-deps` command
// (spec §6, §4.10).
func DepScanCommand(compilerPath, workingDir, src string) Command {
	return Command{Binary: compilerPath, Args: []string{src, "--emit-deps"}, WorkingDir: workingDir}
}
