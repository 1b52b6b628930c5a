package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"arbiter-hq/themis/pkg/cli"
	"arbiter-hq/themis/pkg/compliance"
)

var evaluateFlags struct {
	transactionID   string
	amount          float64
	currency        string
	sender          string
	receiver        string
	senderCountry   string
	receiverCountry string
	description     string
	file            string
	format          string
	output          string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate transactions for compliance",
	Long: `Evaluate one or more transactions and record the resulting decisions
in the ledger.

A single transaction is described with flags. A batch is read from a JSON
file containing an array of transactions; each is evaluated in order and a
summary is printed at the end.

Examples:
  # Evaluate a single transaction
  themis evaluate --amount 50000 --currency USD \
      --sender "Acme GmbH" --receiver "Offshore Holdings Ltd" \
      --sender-country DE --receiver-country KY \
      --description "consulting services"

  # Evaluate a batch from a file
  themis evaluate --file transactions.json

  # Machine-readable output
  themis evaluate --file transactions.json --format csv --output decisions.csv`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVar(&evaluateFlags.transactionID, "transaction-id", "", "transaction identifier (generated if empty)")
	evaluateCmd.Flags().Float64Var(&evaluateFlags.amount, "amount", 0, "transaction amount")
	evaluateCmd.Flags().StringVar(&evaluateFlags.currency, "currency", "", "ISO currency code")
	evaluateCmd.Flags().StringVar(&evaluateFlags.sender, "sender", "", "sending party name")
	evaluateCmd.Flags().StringVar(&evaluateFlags.receiver, "receiver", "", "receiving party name")
	evaluateCmd.Flags().StringVar(&evaluateFlags.senderCountry, "sender-country", "", "sender ISO country code")
	evaluateCmd.Flags().StringVar(&evaluateFlags.receiverCountry, "receiver-country", "", "receiver ISO country code")
	evaluateCmd.Flags().StringVar(&evaluateFlags.description, "description", "", "free-text transaction description")
	evaluateCmd.Flags().StringVarP(&evaluateFlags.file, "file", "f", "", "JSON file with an array of transactions")
	evaluateCmd.Flags().StringVar(&evaluateFlags.format, "format", "text", "output format: text, json, csv")
	evaluateCmd.Flags().StringVarP(&evaluateFlags.output, "output", "o", "", "write output to file instead of stdout")
}

// decisionRow is the tabular projection of a decision used for CSV output.
type decisionRow struct {
	decisions []*compliance.Decision
}

func (r decisionRow) TableHeader() []string {
	return []string{"trace_id", "transaction_id", "verdict", "risk_tier", "risk_score", "confidence", "path", "degraded"}
}

func (r decisionRow) TableRows() [][]string {
	rows := make([][]string, 0, len(r.decisions))
	for _, d := range r.decisions {
		rows = append(rows, []string{
			d.TraceID,
			d.Transaction.TransactionID,
			string(d.Verdict),
			string(d.RiskTier),
			fmt.Sprintf("%.3f", d.RiskScore),
			fmt.Sprintf("%.2f", d.Confidence),
			string(d.SynthesisPath),
			fmt.Sprintf("%t", d.Degraded),
		})
	}
	return rows
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("evaluate", err)
	}
	defer rt.Close()

	var decisions []*compliance.Decision
	if evaluateFlags.file != "" {
		decisions, err = evaluateBatch(ctx, rt)
	} else {
		decisions, err = evaluateSingle(ctx, rt)
	}
	if err != nil {
		return cli.NewCommandError("evaluate", err)
	}

	return writeDecisions(decisions)
}

func evaluateSingle(ctx context.Context, rt *runtime) ([]*compliance.Decision, error) {
	txn := &compliance.Transaction{
		TransactionID:   evaluateFlags.transactionID,
		Amount:          evaluateFlags.amount,
		Currency:        strings.ToUpper(evaluateFlags.currency),
		Sender:          evaluateFlags.sender,
		Receiver:        evaluateFlags.receiver,
		SenderCountry:   strings.ToUpper(evaluateFlags.senderCountry),
		ReceiverCountry: strings.ToUpper(evaluateFlags.receiverCountry),
		Description:     evaluateFlags.description,
		Timestamp:       time.Now().UTC(),
	}
	if txn.TransactionID == "" {
		txn.TransactionID = "TXN-" + uuid.NewString()
	}

	d, err := rt.engine.Evaluate(ctx, txn)
	if err != nil {
		return nil, err
	}
	return []*compliance.Decision{d}, nil
}

func evaluateBatch(ctx context.Context, rt *runtime) ([]*compliance.Decision, error) {
	data, err := os.ReadFile(evaluateFlags.file)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var txns []*compliance.Transaction
	if err := json.Unmarshal(data, &txns); err != nil {
		return nil, fmt.Errorf("parse batch file: %w", err)
	}
	if len(txns) == 0 {
		return nil, fmt.Errorf("batch file %s contains no transactions", evaluateFlags.file)
	}

	progress := cli.NewProgressReporter(os.Stderr)
	progress.Start(int64(len(txns)))

	decisions := make([]*compliance.Decision, 0, len(txns))
	var failed int
	for i, txn := range txns {
		if txn.TransactionID == "" {
			txn.TransactionID = "TXN-" + uuid.NewString()
		}
		if txn.Timestamp.IsZero() {
			txn.Timestamp = time.Now().UTC()
		}
		d, err := rt.engine.Evaluate(ctx, txn)
		if err != nil {
			failed++
			progress.Error(fmt.Errorf("%s: %w", txn.TransactionID, err))
			continue
		}
		decisions = append(decisions, d)
		progress.Update(int64(i + 1))
	}
	progress.Finish()

	byVerdict := make(map[compliance.Verdict]int)
	for _, d := range decisions {
		byVerdict[d.Verdict]++
	}
	fmt.Fprintf(os.Stderr, "Evaluated %d transactions (%d failed): %d ACCEPTABLE, %d NEEDS_REVIEW, %d FLAG\n",
		len(decisions), failed,
		byVerdict[compliance.VerdictAcceptable],
		byVerdict[compliance.VerdictNeedsReview],
		byVerdict[compliance.VerdictFlag])

	if failed > 0 && len(decisions) == 0 {
		return nil, fmt.Errorf("all %d evaluations failed", failed)
	}
	return decisions, nil
}

func writeDecisions(decisions []*compliance.Decision) error {
	out := os.Stdout
	if evaluateFlags.output != "" {
		f, err := os.Create(evaluateFlags.output)
		if err != nil {
			return cli.NewCommandError("evaluate", err)
		}
		defer f.Close()
		out = f
	}

	switch cli.OutputFormat(evaluateFlags.format) {
	case cli.FormatJSON:
		formatter := cli.NewFormatter(cli.FormatJSON)
		if len(decisions) == 1 {
			return formatter.FormatTo(out, decisions[0])
		}
		return formatter.FormatTo(out, decisions)
	case cli.FormatCSV:
		return cli.NewFormatter(cli.FormatCSV).FormatTo(out, decisionRow{decisions})
	default:
		for _, d := range decisions {
			printDecision(out, d)
		}
		return nil
	}
}

func printDecision(w *os.File, d *compliance.Decision) {
	fmt.Fprintf(w, "Decision %s\n", d.TraceID)
	fmt.Fprintf(w, "  Transaction: %s\n", d.Transaction.TransactionID)
	fmt.Fprintf(w, "  Verdict:     %s\n", d.Verdict)
	fmt.Fprintf(w, "  Risk:        %s (score %.3f)\n", d.RiskTier, d.RiskScore)
	fmt.Fprintf(w, "  Confidence:  %.2f\n", d.Confidence)
	fmt.Fprintf(w, "  Path:        %s", d.SynthesisPath)
	if d.Degraded {
		fmt.Fprint(w, " (degraded)")
	}
	fmt.Fprintln(w)
	if d.Reasoning != "" {
		fmt.Fprintf(w, "  Reasoning:   %s\n", d.Reasoning)
	}
	if len(d.RiskFactors) > 0 {
		fmt.Fprintln(w, "  Risk factors:")
		for _, f := range d.RiskFactors {
			fmt.Fprintf(w, "    - %s (%.2f): %s\n", f.Name, f.Weight, f.Detail)
		}
	}
	if len(d.PolicyCitations) > 0 {
		fmt.Fprintln(w, "  Policy citations:")
		for _, c := range d.PolicyCitations {
			fmt.Fprintf(w, "    - %s v%d §%s (relevance %.2f)\n", c.DocID, c.Version, c.Section, c.Relevance)
		}
	}
	if len(d.SimilarCases) > 0 {
		fmt.Fprintln(w, "  Similar cases:")
		for _, c := range d.SimilarCases {
			fmt.Fprintf(w, "    - %s: %s (similarity %.2f)\n", c.TraceID, c.Verdict, c.Similarity)
		}
	}
	fmt.Fprintf(w, "  Took:        %s\n", d.ProcessingTime.Round(time.Millisecond))
}
