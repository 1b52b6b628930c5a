package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"arbiter-hq/themis/pkg/cli"
	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/queue"
)

var tasksFlags struct {
	state  string
	limit  int
	format string
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect the re-evaluation queue",
	Long: `List re-evaluation tasks and their lifecycle state.

Examples:
  # Everything, newest first
  themis tasks

  # Only failed tasks
  themis tasks --state FAILED

  # Export for a spreadsheet
  themis tasks --format csv`,
	RunE: runTasks,
}

func init() {
	rootCmd.AddCommand(tasksCmd)

	tasksCmd.Flags().StringVar(&tasksFlags.state, "state", "", "filter by state: PENDING, IN_PROGRESS, DONE, FAILED")
	tasksCmd.Flags().IntVar(&tasksFlags.limit, "limit", 50, "maximum tasks to list")
	tasksCmd.Flags().StringVar(&tasksFlags.format, "format", "text", "output format: text, json, csv")
}

// taskRow is the tabular projection of queue tasks used for CSV output.
type taskRow struct {
	tasks []*compliance.ReEvaluationTask
}

func (r taskRow) TableHeader() []string {
	return []string{"task_id", "trace_id", "transaction_id", "state", "attempts", "reason", "created_at"}
}

func (r taskRow) TableRows() [][]string {
	rows := make([][]string, 0, len(r.tasks))
	for _, task := range r.tasks {
		rows = append(rows, []string{
			task.TaskID,
			task.TraceID,
			task.TransactionID,
			string(task.State),
			fmt.Sprintf("%d", task.Attempts),
			task.Reason.String(),
			task.CreatedAt.Format(time.RFC3339),
		})
	}
	return rows
}

func runTasks(cmd *cobra.Command, args []string) error {
	state := compliance.TaskState(strings.ToUpper(tasksFlags.state))
	switch state {
	case "", compliance.TaskPending, compliance.TaskInProgress, compliance.TaskDone, compliance.TaskFailed:
	default:
		return cli.NewConfigError("state", fmt.Sprintf("unknown task state %q", tasksFlags.state))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	q, err := queue.New(cfg.Queue)
	if err != nil {
		return cli.NewCommandError("tasks", err)
	}
	defer q.Close()

	tasks, err := q.List(context.Background(), state, tasksFlags.limit)
	if err != nil {
		return cli.NewCommandError("tasks", err)
	}

	switch cli.OutputFormat(tasksFlags.format) {
	case cli.FormatJSON:
		return cli.NewFormatter(cli.FormatJSON).FormatTo(cmd.OutOrStdout(), tasks)
	case cli.FormatCSV:
		return cli.NewFormatter(cli.FormatCSV).FormatTo(cmd.OutOrStdout(), taskRow{tasks})
	default:
		if len(tasks) == 0 {
			fmt.Println("No tasks queued")
			return nil
		}
		fmt.Printf("%-36s  %-11s  %-8s  %-24s  %s\n", "TASK", "STATE", "ATTEMPTS", "REASON", "TRACE")
		for _, task := range tasks {
			fmt.Printf("%-36s  %-11s  %-8d  %-24s  %s\n",
				task.TaskID, task.State, task.Attempts, task.Reason.String(), task.TraceID)
			if task.LastError != "" {
				fmt.Printf("%38s%s\n", "", task.LastError)
			}
		}
		return nil
	}
}
