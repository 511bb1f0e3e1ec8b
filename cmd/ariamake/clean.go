package main

import (
	"github.com/spf13/cobra"

	"github.com/ariamake/ariamake/internal/build"
	"github.com/ariamake/ariamake/internal/msg"
)

var (
	flagCleanDryRun bool
	flagCleanStale  bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean [target]",
	Short: "Remove built artifacts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
			Warnf:        warnf,
		})
		if err != nil {
			return err
		}
		logger = msg.NewLogger(b.RunID())

		target := ""
		if len(args) > 0 {
			target = args[0]
		}

		plan, errs := b.Clean(target, flagCleanStale, flagCleanDryRun)
		for _, e := range plan.Removals {
			if flagCleanDryRun {
				logger.Info("would remove %s", e.Path)
			} else {
				logger.Info("removed %s", e.Path)
			}
		}
		for _, e := range errs {
			logger.Warn("%v", e)
		}
		return nil
	},
}

func init() {
	cleanCmd.Flags().BoolVar(&flagCleanDryRun, "dry-run", false, "Print what would be removed without touching disk")
	cleanCmd.Flags().BoolVar(&flagCleanStale, "stale", false, "Only remove artifacts orphaned by targets no longer in the manifest")
}
