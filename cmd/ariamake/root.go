// Command ariamake is the CLI front-end over the core engine in
// internal/build — everything here is ambient framing (flag parsing,
// colored diagnostics, exit codes); build-file syntax, glob expansion,
// and the compiler/linker themselves remain entirely out of scope (spec
// §1's Non-goals).
package main

import (
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ariamake/ariamake/internal/aerr"
	"github.com/ariamake/ariamake/internal/msg"
)

var (
	flagManifest  string
	flagBuildDir  string
	flagJobs      int
	flagFailFast  bool
	flagVerbose   bool
	flagOnFailure = NewEnumValue("continue", map[string]string{
		"continue":  "Keep building independent targets after a failure",
		"fail-fast": "Stop submitting new work as soon as one target fails",
	})
)

var rootCmd = &cobra.Command{
	Use:   "ariamake",
	Short: "Incremental parallel native build automation",
	Long:  `AriaMake builds .aria projects: dependency graph, dirty analysis, and a parallel scheduler over your toolchain.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagManifest, "manifest", "m", "aria.manifest.json", "Path to the resolved build manifest")
	rootCmd.PersistentFlags().StringVar(&flagBuildDir, "build-dir", ".ariamake", "Directory for state, registry, and compile_commands.json")
	rootCmd.PersistentFlags().IntVarP(&flagJobs, "jobs", "j", runtime.NumCPU(), "Number of parallel build workers")
	rootCmd.PersistentFlags().BoolVar(&flagFailFast, "fail-fast", false, "Stop submitting new work after the first failure")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Print extra detail (run ID, manifest path, skipped targets; the commands check would run)")
	rootCmd.PersistentFlags().VarP(&flagOnFailure, "on-failure", "", "Failure policy, one of "+flagOnFailure.HelpString())
	rootCmd.RegisterFlagCompletionFunc("on-failure", flagOnFailure.CompletionFunc())

	rootCmd.AddCommand(buildCmd, rebuildCmd, cleanCmd, checkCmd)
}

// Execute runs the CLI and maps the resulting error's aerr.Tag to the
// process exit code spec §6 fixes: 0 success, 1 build failure, 2
// manifest/configuration error, 3 cycle detected, 4 toolchain missing.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		msg.Error("%v", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch aerr.TagOf(err) {
	case aerr.Manifest, aerr.StateCorruption:
		return 2
	case aerr.Cycle:
		return 3
	case aerr.ToolchainMissing:
		return 4
	case "":
		return 1
	default:
		return 1
	}
}

func failFastPolicy() bool {
	return flagFailFast || flagOnFailure.Value() == "fail-fast"
}
