package main

import (
	"github.com/spf13/cobra"

	"github.com/autoship/autoship/internal/output"
)

var (
	// Global flags
	flagConfig  string
	flagRepo    string
	flagVerbose bool
)

// rootCmd is the base command for the autoship CLI.
var rootCmd = &cobra.Command{
	Use:   "autoship",
	Short: "Trunk-based release automation",
	Long: `autoship cuts releases from the trunk branch.

It infers the next semantic version from the commit history, writes the
version files, creates the release commit and annotated tag, builds the
distributable artifacts, and publishes them to the configured targets.`,
	PersistentPreRunE: initializeGlobals,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to config file (default: autoship.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagRepo, "repo", ".", "path to the repository root")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "increase output verbosity")

	rootCmd.AddCommand(newReleaseCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initializeGlobals sets up logging based on global flags.
func initializeGlobals(_ *cobra.Command, _ []string) error {
	output.SetupLogging(flagVerbose)
	return nil
}
