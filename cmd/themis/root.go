package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "themis",
	Short: "Themis - retrieval-augmented compliance decision engine",
	Long: `Themis is an open-source compliance decision engine that evaluates
financial transactions against an indexed policy corpus and decided-case
history.

Every evaluation produces an auditable decision:
  - Verdict (ACCEPTABLE, NEEDS_REVIEW, FLAG) with reasoning
  - Policy citations and similar-case references
  - Deterministic risk score and tier
  - Provenance: synthesis path, degraded-mode flag, timing

Policy changes are detected on re-indexing, and impacted decisions are
queued for durable re-evaluation.

For more information, visit: https://github.com/arbiter-hq/themis`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.CompletionOptions.DisableDefaultCmd = false
}
