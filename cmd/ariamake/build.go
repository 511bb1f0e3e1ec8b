package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ariamake/ariamake/internal/build"
	"github.com/ariamake/ariamake/internal/msg"
	"github.com/ariamake/ariamake/internal/scheduler"
)

var buildCmd = &cobra.Command{
	Use:   "build [targets...]",
	Short: "Build dirty targets (or the whole project if none are named)",
	RunE:  runBuild(false),
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild [targets...]",
	Short: "Force every target dirty and rebuild it",
	RunE:  runBuild(true),
}

func runBuild(force bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		bar := msg.NewProgressBar(0, 0, os.Stdout)

		// Warnf is handed to build.New before the Build (and therefore its
		// RunID) exists, so it closes over logger and falls back to the
		// package-level msg.Warn until New returns and logger is bound —
		// Warnf is never actually invoked during New itself (internal/build
		// only calls it from Run/Check), so this ordering is safe.
		var logger *msg.Logger
		warnf := func(format string, a ...any) {
			if logger != nil {
				logger.Warn(format, a...)
			} else {
				msg.Warn(format, a...)
			}
		}

		b, err := build.New(build.Config{
			ManifestPath: flagManifest,
			BuildDir:     flagBuildDir,
			Jobs:         flagJobs,
			FailFast:     failFastPolicy(),
			Force:        force,
			Only:         args,
			Warnf:        warnf,
			Progress:     progressAdapter(bar),
		})
		if err != nil {
			return err
		}
		logger = msg.NewLogger(b.RunID())
		if flagVerbose {
			logger.Info("run %s: building against %s", b.RunID(), flagManifest)
		}

		result, err := b.Run(context.Background())
		if err != nil {
			return err
		}
		bar.Finish()

		for id, buildErr := range result.Failed {
			logger.Error("%s: %v", b.Graph().Node(id).Target.Name, buildErr)
		}
		if len(result.Skipped) > 0 && flagVerbose {
			for _, id := range result.Skipped {
				logger.Warn("%s: skipped (dependency failed)", b.Graph().Node(id).Target.Name)
			}
		}
		logger.Info("%d built, %d failed, %d skipped", len(result.Built), len(result.Failed), len(result.Skipped))

		if len(result.Failed) > 0 {
			return buildFailedErr{n: len(result.Failed)}
		}
		return nil
	}
}

// buildFailedErr signals a build failure to Execute's exit-code mapper
// without itself carrying an aerr.Tag — exitCodeFor's default branch maps
// any untagged error to exit code 1, which is exactly what a build
// failure (as opposed to a manifest, cycle, or toolchain error) spec §6
// calls for.
type buildFailedErr struct{ n int }

func (e buildFailedErr) Error() string {
	if e.n == 1 {
		return "1 target failed to build"
	}
	return fmt.Sprintf("%d targets failed to build", e.n)
}

func progressAdapter(bar *msg.ProgressBar) scheduler.Progress {
	return func(ev scheduler.ProgressEvent) {
		if ev.Total == 0 {
			return
		}
		bar.Total = int64(ev.Total)
		switch ev.Phase {
		case scheduler.PhaseDone, scheduler.PhaseFailed, scheduler.PhaseSkipped:
			bar.Set(int64(ev.Current), ev.Target)
		}
	}
}
