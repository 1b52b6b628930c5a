package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"arbiter-hq/themis/pkg/cli"
	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/ledger/storage"
)

var reviewFlags struct {
	agree    bool
	override string
	by       string
	notes    string
}

var reviewCmd = &cobra.Command{
	Use:   "review <trace-id>",
	Short: "Record reviewer feedback on a decision",
	Long: `Record a human review of a decision.

A review either agrees with the verdict or overrides it. An overridden
decision is protected: automatic re-evaluation will not supersede it
without an explicit operator confirmation.

Examples:
  # Agree with the decision
  themis review 4f1c... --agree --by analyst@example.com

  # Override the verdict
  themis review 4f1c... --override FLAG --by analyst@example.com \
      --notes "receiver appears on internal watchlist"`,
	Args: cobra.ExactArgs(1),
	RunE: runReview,
}

func init() {
	rootCmd.AddCommand(reviewCmd)

	reviewCmd.Flags().BoolVar(&reviewFlags.agree, "agree", false, "agree with the recorded verdict")
	reviewCmd.Flags().StringVar(&reviewFlags.override, "override", "", "override verdict: ACCEPTABLE, NEEDS_REVIEW, FLAG")
	reviewCmd.Flags().StringVar(&reviewFlags.by, "by", "", "reviewer identity (required)")
	reviewCmd.Flags().StringVar(&reviewFlags.notes, "notes", "", "free-text review notes")
	reviewCmd.MarkFlagRequired("by")
}

func runReview(cmd *cobra.Command, args []string) error {
	if reviewFlags.agree == (reviewFlags.override != "") {
		return cli.NewConfigError("", "exactly one of --agree or --override is required")
	}

	override := compliance.Verdict(strings.ToUpper(reviewFlags.override))
	if reviewFlags.override != "" && !compliance.ValidVerdict(override) {
		return cli.NewConfigError("override", fmt.Sprintf("unknown verdict %q", reviewFlags.override))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.NewFromConfig(cfg.Ledger)
	if err != nil {
		return cli.NewCommandError("review", err)
	}
	defer store.Close()

	ctx := context.Background()
	traceID := args[0]
	d, err := store.GetDecision(ctx, traceID)
	if err != nil {
		return cli.NewCommandError("review", err)
	}

	fb := &compliance.Feedback{
		TraceID:    traceID,
		ReviewedBy: reviewFlags.by,
		Agrees:     reviewFlags.agree,
		Notes:      reviewFlags.notes,
		CreatedAt:  time.Now().UTC(),
	}
	if !fb.Agrees {
		fb.OverrideVerdict = override
	}
	if err := store.SaveFeedback(ctx, fb); err != nil {
		return cli.NewCommandError("review", err)
	}

	if fb.Agrees {
		fmt.Printf("✓ Recorded agreement with %s on decision %s\n", d.Verdict, traceID)
	} else {
		fmt.Printf("✓ Recorded override %s -> %s on decision %s\n", d.Verdict, override, traceID)
	}
	return nil
}
