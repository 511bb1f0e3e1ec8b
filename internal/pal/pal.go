// Package pal is the platform abstraction layer for subprocess execution
// (spec §4.7): spawn, capture stdout/stderr without risking a pipe
// deadlock, and enforce an optional timeout.
//
// Go's os/exec already keeps file descriptors 3+ held by the parent from
// leaking into the child (ExtraFiles is opt-in and unused here), and
// leaves the child's stdin connected to the null device when Cmd.Stdin is
// left nil — both requirements spec §4.7 calls out are satisfied by not
// doing anything unusual, rather than by extra code.
package pal

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ariamake/ariamake/internal/aerr"
	"github.com/ariamake/ariamake/internal/command"
)

// gracePeriod is how long Execute waits after a graceful termination
// request before force-killing a timed-out subprocess.
const gracePeriod = 2 * time.Second

// Options configures one Execute call.
type Options struct {
	WorkingDir    string
	Timeout       time.Duration // 0 = no timeout
	Env           map[string]string
	CaptureStdout bool
	CaptureStderr bool
}

// ExecResult is the outcome of a subprocess run. A nonzero ExitCode is not
// itself an error from Execute's perspective (spec §4.7) — callers decide
// whether that constitutes a build failure.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	TimedOut bool
	Wall     time.Duration
}

// Execute runs c, draining stdout and stderr on two dedicated goroutines
// so that neither can fill its pipe buffer and deadlock the child (spec
// §4.7's mandatory pipe-safety contract). A missing binary produces an
// *aerr.Error tagged aerr.ToolchainMissing; everything else that happens
// after a successful spawn is reported through ExecResult.
func Execute(ctx context.Context, c command.Command, opts Options) (ExecResult, error) {
	resolvedBinary, err := exec.LookPath(c.Binary)
	if err != nil {
		return ExecResult{}, aerr.Wrap(aerr.ToolchainMissing, "", err)
	}

	cmd := exec.Command(resolvedBinary, c.Args...)
	cmd.Dir = firstNonEmpty(opts.WorkingDir, c.WorkingDir)
	if opts.Env != nil {
		cmd.Env = mergeEnv(opts.Env)
	}
	// cmd.Stdin left nil: os/exec connects the child's stdin to the null
	// device, so a controlling TTY's signals and input never reach it.

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return ExecResult{}, aerr.Wrap(aerr.IO, "", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return ExecResult{}, aerr.Wrap(aerr.IO, "", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return ExecResult{}, aerr.Wrap(aerr.ToolchainMissing, "", err)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	eg, _ := errgroup.WithContext(context.Background())
	eg.Go(func() error { _, err := io.Copy(&stdoutBuf, stdoutPipe); return err })
	eg.Go(func() error { _, err := io.Copy(&stderrBuf, stderrPipe); return err })

	drained := make(chan struct{})
	go func() {
		// eg.Wait ignores the returned error deliberately: a copy error
		// here means the pipe closed mid-read, which is what a killed
		// child looks like, not a reason to fail Execute.
		_ = eg.Wait()
		close(drained)
	}()

	var timedOut bool
	var timerC <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timerC = timer.C
	}
	select {
	case <-drained:
	case <-timerC:
		timedOut = true
	case <-ctx.Done():
		// A passed context deadline counts as a timeout and escalates
		// to a signal. Any other cancellation does not kill the child:
		// Execute keeps waiting until the child's output is drained.
		if ctx.Err() == context.DeadlineExceeded {
			timedOut = true
		} else {
			<-drained
		}
	}
	if timedOut {
		requestGracefulStop(cmd)
		select {
		case <-drained:
		case <-time.After(gracePeriod):
			_ = cmd.Process.Kill()
			<-drained
		}
	}

	// Reads from both pipes have completed (EOF), which on every
	// supported platform only happens once the child has exited and the
	// OS has closed its end of the pipe — so it is safe to reap the
	// process now. Calling Wait earlier, before the drains finish, is
	// exactly the mistake the Go documentation warns against.
	waitErr := cmd.Wait()

	result := ExecResult{
		Stdout:   stdoutBuf.Bytes(),
		Stderr:   stderrBuf.Bytes(),
		TimedOut: timedOut,
		Wall:     time.Since(start),
	}
	if !opts.CaptureStdout {
		result.Stdout = nil
	}
	if !opts.CaptureStderr {
		result.Stderr = nil
	}
	_ = waitErr // the process's own exit code is authoritative even on error
	result.ExitCode = exitCode(cmd)

	return result, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func mergeEnv(overrides map[string]string) []string {
	base := osEnviron()
	out := make([]string, 0, len(base)+len(overrides))
	out = append(out, base...)
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}
