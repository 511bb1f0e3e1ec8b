//go:build windows

package pal

import (
	"os"
	"os/exec"
)

// requestGracefulStop on Windows has no SIGTERM equivalent reachable
// through os/exec for a process not created with its own console group,
// so the graceful phase is a no-op and Execute proceeds straight to its
// force-kill fallback after the grace period elapses.
func requestGracefulStop(cmd *exec.Cmd) {}

// signalExitCode: Windows processes don't expose a signal number through
// os.ProcessState, so a process that never produced a normal exit code is
// reported as killed (matching the 128+signal convention's intent without
// a real signal to report).
func signalExitCode(state *os.ProcessState) int {
	return 128
}
