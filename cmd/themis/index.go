package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"arbiter-hq/themis/pkg/cli"
)

var indexFlags struct {
	retire string
}

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index policy documents",
	Long: `Index a policy YAML file or every policy file in a directory.

Re-indexing a changed document creates a new version, activates it, and
triggers change detection: impacted decisions are queued for re-evaluation
unless the change is MINOR. An unchanged document is skipped.

Examples:
  # Index a single policy file
  themis index policies/aml-ctr.yaml

  # Index every policy file in a directory
  themis index policies/

  # Retire a document (deactivate and remove from retrieval)
  themis index --retire aml-ctr`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)

	indexCmd.Flags().StringVar(&indexFlags.retire, "retire", "", "retire the named document instead of indexing")
}

func runIndex(cmd *cobra.Command, args []string) error {
	if indexFlags.retire == "" && len(args) == 0 {
		return cli.NewConfigError("", "a path argument or --retire is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("index", err)
	}
	defer rt.Close()

	if indexFlags.retire != "" {
		if err := rt.indexer.DeleteDocument(ctx, indexFlags.retire); err != nil {
			return cli.NewCommandError("index", err)
		}
		fmt.Printf("✓ Retired document %s\n", indexFlags.retire)
		return nil
	}

	info, err := os.Stat(args[0])
	if err != nil {
		return cli.NewCommandError("index", err)
	}

	if info.IsDir() {
		summary, err := rt.ingestor.IngestDir(ctx, args[0])
		if err != nil {
			return cli.NewCommandError("index", err)
		}
		fmt.Printf("✓ Indexed %d documents (%d unchanged, %d failed)\n",
			summary.Indexed, summary.Skipped, summary.Failed)
		if summary.Failed > 0 {
			return cli.NewCommandError("index", fmt.Errorf("%d files failed to index", summary.Failed))
		}
		return nil
	}

	result, indexed, err := rt.ingestor.IngestFile(ctx, args[0])
	if err != nil {
		return cli.NewCommandError("index", err)
	}
	if !indexed {
		fmt.Println("Document unchanged, nothing to do")
		return nil
	}
	if result.PreviousVersion > 0 {
		fmt.Printf("✓ Indexed %s v%d (%d chunks, replaces v%d)\n",
			result.DocID, result.Version, result.Chunks, result.PreviousVersion)
	} else {
		fmt.Printf("✓ Indexed %s v%d (%d chunks)\n", result.DocID, result.Version, result.Chunks)
	}
	return nil
}
