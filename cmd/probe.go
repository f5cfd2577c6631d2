// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/whatsup/internal/config"
	"github.com/naka-gawa/whatsup/internal/gateway"
	"github.com/naka-gawa/whatsup/internal/ratelimit"
	"github.com/naka-gawa/whatsup/internal/usecase"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probes a GitHub organization and outputs the report as JSON",
	Long: `Walks the repositories and members of the specified organization,
collects per-repository contributor, language and commit data, and
outputs the aggregated report in JSON format. Repositories that cannot
be probed appear in the report's failure list; only org-level errors
(unknown organization, listing failure) abort the run.`,
	Run: func(cmd *cobra.Command, args []string) {
		// An interrupt cancels the run but still produces a report from
		// whatever repositories finished probing.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		// Get the verbose flag from the root command to set up the logger.
		verbose, _ := cmd.InheritedFlags().GetBool("verbose")
		logger := log.New(io.Discard, "", log.LstdFlags) // Default: discard all logs.
		if verbose {
			logger.SetOutput(os.Stderr) // If verbose, log to standard error.
		}

		org, _ := cmd.Flags().GetString("org")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		// Inject dependencies and run the main business logic.
		githubGateway, err := gateway.NewGitHubGateway(cfg.GitHubToken, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create GitHub gateway: %v\n", err)
			os.Exit(1)
		}
		traversal := usecase.NewTraversal(githubGateway, ratelimit.New(), logger, concurrency)

		report, err := traversal.Run(ctx, org)
		if err != nil {
			if errors.Is(err, gateway.ErrOrgNotFound) {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(2)
			}
			fmt.Fprintf(os.Stderr, "Failed to probe organization: %v\n", err)
			os.Exit(1)
		}

		// Marshal the report into a pretty-printed JSON string.
		jsonData, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to marshal report to JSON: %v\n", err)
			os.Exit(1)
		}

		// Print the final JSON to standard output.
		fmt.Println(string(jsonData))
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringP("org", "o", "", "Target GitHub organization name (required)")
	probeCmd.MarkFlagRequired("org")
	probeCmd.Flags().IntP("concurrency", "c", usecase.DefaultConcurrency, "Number of repositories probed in parallel")
}
