//go:build !windows

package pal

import (
	"os"
	"os/exec"
	"syscall"
)

// requestGracefulStop sends SIGTERM, giving the child a chance to flush
// partially written output before Execute escalates to SIGKILL.
func requestGracefulStop(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
}

// signalExitCode maps a signal-terminated process to 128+signal, the
// convention spec §4.7 specifies for a killed ExecResult.
func signalExitCode(state *os.ProcessState) int {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return -1
	}
	return 128 + int(ws.Signal())
}
