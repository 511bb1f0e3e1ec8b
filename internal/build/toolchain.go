package build

import (
	"os"
	"os/exec"
)

// commonCompilers and commonArchivers are tried in order when CC/AR are not
// set in the environment, adapted from the teacher's findCompiler (its
// builder/cc.go): a plain PATH search through the usual suspects, no
// version sniffing or feature probing.
var (
	commonCompilers = []string{"clang", "gcc", "cc", "cl"}
	commonArchivers = []string{"llvm-ar", "ar", "lib"}
)

// findCompiler resolves the compiler to invoke: the CC environment
// variable first, then the first of commonCompilers found on PATH.
// Returns "" if nothing is found, so the caller can report
// aerr.ToolchainMissing.
func findCompiler() string {
	if cc := os.Getenv("CC"); cc != "" {
		return cc
	}
	for _, c := range commonCompilers {
		if path, err := exec.LookPath(c); err == nil {
			return path
		}
	}
	return ""
}

// findArchiver resolves the archiver the same way, via AR.
func findArchiver() string {
	if ar := os.Getenv("AR"); ar != "" {
		return ar
	}
	for _, a := range commonArchivers {
		if path, err := exec.LookPath(a); err == nil {
			return path
		}
	}
	return ""
}
