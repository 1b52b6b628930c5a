package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"arbiter-hq/themis/pkg/cli"
	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/ledger/storage"
)

var decisionsFlags struct {
	limit  int
	format string
}

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Inspect the decision ledger",
	Long: `Inspect recorded decisions.

Subcommands:
  list  - List decisions, newest first
  show  - Show one decision in full, with any reviewer feedback

Examples:
  themis decisions list --limit 20
  themis decisions list --format csv
  themis decisions show 4f1c...`,
}

var decisionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List decisions, newest first",
	RunE:  runDecisionsList,
}

var decisionsShowCmd = &cobra.Command{
	Use:   "show <trace-id>",
	Short: "Show one decision in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecisionsShow,
}

func init() {
	rootCmd.AddCommand(decisionsCmd)
	decisionsCmd.AddCommand(decisionsListCmd)
	decisionsCmd.AddCommand(decisionsShowCmd)

	decisionsCmd.PersistentFlags().StringVar(&decisionsFlags.format, "format", "text", "output format: text, json, csv")
	decisionsListCmd.Flags().IntVar(&decisionsFlags.limit, "limit", 50, "maximum decisions to list")
}

func runDecisionsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.NewFromConfig(cfg.Ledger)
	if err != nil {
		return cli.NewCommandError("decisions", err)
	}
	defer store.Close()

	decisions, err := store.ListDecisions(context.Background(), decisionsFlags.limit)
	if err != nil {
		return cli.NewCommandError("decisions", err)
	}

	switch cli.OutputFormat(decisionsFlags.format) {
	case cli.FormatJSON:
		return cli.NewFormatter(cli.FormatJSON).FormatTo(cmd.OutOrStdout(), decisions)
	case cli.FormatCSV:
		return cli.NewFormatter(cli.FormatCSV).FormatTo(cmd.OutOrStdout(), decisionRow{decisions})
	default:
		if len(decisions) == 0 {
			fmt.Println("No decisions recorded")
			return nil
		}
		fmt.Printf("%-36s  %-13s  %-8s  %-6s  %-14s  %s\n",
			"TRACE", "VERDICT", "TIER", "SCORE", "PATH", "TRANSACTION")
		for _, d := range decisions {
			path := string(d.SynthesisPath)
			if d.Degraded {
				path += "*"
			}
			fmt.Printf("%-36s  %-13s  %-8s  %.3f  %-14s  %s\n",
				d.TraceID, d.Verdict, d.RiskTier, d.RiskScore, path, d.Transaction.TransactionID)
		}
		return nil
	}
}

func runDecisionsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.NewFromConfig(cfg.Ledger)
	if err != nil {
		return cli.NewCommandError("decisions", err)
	}
	defer store.Close()

	ctx := context.Background()
	d, err := store.GetDecision(ctx, args[0])
	if err != nil {
		return cli.NewCommandError("decisions", err)
	}

	if cli.OutputFormat(decisionsFlags.format) == cli.FormatJSON {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(cmd.OutOrStdout(), d)
	}

	printDecision(os.Stdout, d)
	if d.Supersedes != "" {
		fmt.Printf("  Supersedes:  %s\n", d.Supersedes)
	}

	fb, err := store.GetFeedback(ctx, d.TraceID)
	if err != nil {
		if !compliance.IsNotFound(err) {
			return cli.NewCommandError("decisions", err)
		}
		return nil
	}
	if fb.Agrees {
		fmt.Printf("  Review:      %s agreed (%s)\n", fb.ReviewedBy, fb.CreatedAt.Format("2006-01-02"))
	} else {
		fmt.Printf("  Review:      %s overrode to %s (%s)\n",
			fb.ReviewedBy, fb.OverrideVerdict, fb.CreatedAt.Format("2006-01-02"))
	}
	if fb.Notes != "" {
		fmt.Printf("               %s\n", fb.Notes)
	}
	return nil
}
