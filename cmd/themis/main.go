// Themis is a retrieval-augmented compliance decision engine for financial
// transactions.
//
// It evaluates transactions against an indexed policy corpus and decided-case
// history, producing auditable verdicts with citations:
//   - Policy document chunking, embedding, and vector retrieval
//   - Deterministic risk scoring with configurable weights
//   - LLM verdict synthesis with a rule-based fallback path
//   - Append-only decision ledger and case history
//   - Policy change detection with automatic re-evaluation queueing
//
// Usage:
//
//	# Evaluate a single transaction
//	themis evaluate --amount 50000 --currency USD --sender "Acme GmbH" \
//	    --receiver "Offshore Ltd" --sender-country DE --receiver-country KY
//
//	# Index a policy document or directory
//	themis index policies/aml-ctr.yaml
//	themis index policies/
//
//	# Run the re-evaluation worker
//	themis worker
//
//	# Ask a free-form compliance question
//	themis query "What is the CTR reporting threshold?" --topic AML
//
//	# Show version information
//	themis version
//
// For complete documentation, see: https://github.com/arbiter-hq/themis
package main

func main() {
	Execute()
}
