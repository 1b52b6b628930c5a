package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"arbiter-hq/themis/pkg/cli"
	"arbiter-hq/themis/pkg/queue"
)

var reevaluateFlags struct {
	confirmOverride bool
	format          string
}

var reevaluateCmd = &cobra.Command{
	Use:   "reevaluate <trace-id>",
	Short: "Re-evaluate a decision against the current corpus",
	Long: `Replay a decision's transaction against the current policy corpus
and record a superseding decision.

A decision already superseded by a newer one is refused. A decision whose
verdict was overridden by a reviewer is protected and requires
--confirm-override.

Examples:
  themis reevaluate 4f1c...
  themis reevaluate 4f1c... --confirm-override`,
	Args: cobra.ExactArgs(1),
	RunE: runReevaluate,
}

func init() {
	rootCmd.AddCommand(reevaluateCmd)

	reevaluateCmd.Flags().BoolVar(&reevaluateFlags.confirmOverride, "confirm-override", false, "supersede a reviewer-overridden decision")
	reevaluateCmd.Flags().StringVar(&reevaluateFlags.format, "format", "text", "output format: text, json")
}

func runReevaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("reevaluate", err)
	}
	defer rt.Close()

	d, err := rt.engine.Reevaluate(ctx, args[0], reevaluateFlags.confirmOverride)
	if err != nil {
		if errors.Is(err, queue.ErrOverrideProtected) {
			return cli.NewCommandError("reevaluate",
				fmt.Errorf("%w (use --confirm-override to supersede anyway)", err))
		}
		return cli.NewCommandError("reevaluate", err)
	}

	if cli.OutputFormat(reevaluateFlags.format) == cli.FormatJSON {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(cmd.OutOrStdout(), d)
	}
	fmt.Printf("✓ Decision %s superseded by %s\n", args[0], d.TraceID)
	printDecision(os.Stdout, d)
	return nil
}
