// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "whatsup",
	Short: "A CLI tool to probe a GitHub organization's public surface.",
	Long: `whatsup walks a GitHub organization's repositories and members and
produces an aggregated report: per-repository contributors, languages,
commit counts and health checks, plus org-wide contributor totals.
Individual repositories that cannot be probed are reported as failures
without aborting the run.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Add a persistent flag for verbose output, available to all commands.
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
}
