package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"arbiter-hq/themis/pkg/cli"
	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/engine"
)

var statsFlags struct {
	format string
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show corpus and decision statistics",
	Long: `Show a snapshot of the policy corpus, decision history, and
re-evaluation queue.

Examples:
  themis stats
  themis stats --format json`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringVar(&statsFlags.format, "format", "text", "output format: text, json")
}

// statsReport combines engine statistics with queue state for one snapshot.
type statsReport struct {
	*engine.Stats
	Tasks map[compliance.TaskState]int64 `json:"tasks"`
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("stats", err)
	}
	defer rt.Close()

	st, err := rt.engine.Stats(ctx)
	if err != nil {
		return cli.NewCommandError("stats", err)
	}
	tasks, err := rt.queue.Counts(ctx)
	if err != nil {
		return cli.NewCommandError("stats", err)
	}
	report := &statsReport{Stats: st, Tasks: tasks}

	if cli.OutputFormat(statsFlags.format) == cli.FormatJSON {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(cmd.OutOrStdout(), report)
	}

	fmt.Println("Policy corpus")
	fmt.Printf("  Documents:    %d (%d active)\n", st.Documents, st.ActiveDocuments)
	for topic, n := range st.DocumentsByTopic {
		fmt.Printf("    %-10s  %d\n", topic, n)
	}
	fmt.Printf("  Chunks:       %d\n", st.Chunks)
	fmt.Println("Decisions")
	fmt.Printf("  Total:        %d\n", st.Decisions)
	for verdict, n := range st.DecisionsByVerdict {
		fmt.Printf("    %-13s %d\n", verdict, n)
	}
	fmt.Printf("  Cases:        %d (%d in vector store)\n", st.Cases, st.VectorCases)
	fmt.Println("Queue")
	for _, state := range []compliance.TaskState{
		compliance.TaskPending, compliance.TaskInProgress,
		compliance.TaskDone, compliance.TaskFailed,
	} {
		fmt.Printf("  %-13s %d\n", state, report.Tasks[state])
	}
	return nil
}
