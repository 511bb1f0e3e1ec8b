package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ariamake/ariamake/internal/build"
	"github.com/ariamake/ariamake/internal/msg"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compute the dirty set and the commands that would run, without building",
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

		results, err := b.Check(context.Background())
		if err != nil {
			return err
		}

		if len(results) == 0 {
			logger.Info("nothing to build, every target is up to date")
			return nil
		}

		for _, r := range results {
			logger.Info("%s (%s)", r.Target, r.Reason)
			if !flagVerbose {
				continue
			}
			indent := &msg.IndentWriter{Indent: "    ", W: os.Stdout}
			for _, c := range r.Commands {
				indent.Write([]byte(c.Binary + " " + strings.Join(c.Args, " ") + "\n"))
			}
		}
		return nil
	},
}
