package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"arbiter-hq/themis/pkg/cli"
	"arbiter-hq/themis/pkg/compliance"
)

var queryFlags struct {
	topic  string
	format string
}

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a compliance question",
	Long: `Answer a free-form compliance question over the active policy corpus.

The question is embedded, the most relevant policy chunks are retrieved,
and the reasoning service synthesizes an answer. When the service is
unavailable, the top excerpts are summarized instead, at reduced
confidence.

Examples:
  # Ask against the whole corpus
  themis query "What is the CTR reporting threshold?"

  # Restrict retrieval to a topic
  themis query "When is enhanced due diligence required?" --topic KYC`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringVar(&queryFlags.topic, "topic", "", "restrict retrieval to a topic: AML, KYC, SANCTIONS, FRAUD")
	queryCmd.Flags().StringVar(&queryFlags.format, "format", "text", "output format: text, json")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	topic := compliance.Topic(strings.ToUpper(queryFlags.topic))
	if queryFlags.topic != "" && !compliance.ValidTopic(topic) {
		return cli.NewConfigError("topic", fmt.Sprintf("unknown topic %q", queryFlags.topic))
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("query", err)
	}
	defer rt.Close()

	answer, err := rt.engine.Answer(ctx, args[0], topic)
	if err != nil {
		return cli.NewCommandError("query", err)
	}

	if cli.OutputFormat(queryFlags.format) == cli.FormatJSON {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(cmd.OutOrStdout(), map[string]interface{}{
			"question":   args[0],
			"answer":     answer.Text,
			"confidence": answer.Confidence,
		})
	}

	fmt.Println(answer.Text)
	fmt.Printf("\nConfidence: %.2f\n", answer.Confidence)
	return nil
}
