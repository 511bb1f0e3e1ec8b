package pal

import (
	"os"
	"os/exec"
)

func osEnviron() []string { return os.Environ() }

// exitCode resolves the final exit code for a finished command, mapping
// signal termination to 128+signal per spec §4.7.
func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	if code := cmd.ProcessState.ExitCode(); code >= 0 {
		return code
	}
	return signalExitCode(cmd.ProcessState)
}
