package engine

import (
	"fmt"
	"strings"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/reasoner"
	"arbiter-hq/themis/pkg/vecstore"
)

// Built-in reference evidence, served in demo mode and when the vector store
// is unreachable. Doc and case IDs carry a demo- prefix so citations built
// from them are recognizably synthetic.

func demoPolicyHits() []vecstore.ChunkHit {
	return []vecstore.ChunkHit{
		{
			Chunk: compliance.PolicyChunk{
				ChunkID: compliance.ChunkID("demo-aml", 1, 0),
				DocID:   "demo-aml",
				Version: 1,
				Section: "Transaction Thresholds",
				Text: "All transactions exceeding USD 10,000 must be reported to the " +
					"compliance team within 24 hours. Enhanced due diligence is required " +
					"for transactions above USD 50,000, including source of funds " +
					"verification and documented approval.",
				Source: compliance.SourceInternal,
				Topic:  compliance.TopicAML,
			},
			Score: 0.92,
		},
		{
			Chunk: compliance.PolicyChunk{
				ChunkID: compliance.ChunkID("demo-sanctions", 2, 0),
				DocID:   "demo-sanctions",
				Version: 2,
				Section: "Prohibited Jurisdictions",
				Text: "Transactions involving sanctioned jurisdictions including Iran, " +
					"North Korea, Syria and Crimea are strictly prohibited. All " +
					"counterparties must be screened against current OFAC sanctions " +
					"lists before settlement.",
				Source: compliance.SourceOFAC,
				Topic:  compliance.TopicSanctions,
			},
			Score: 0.88,
		},
		{
			Chunk: compliance.PolicyChunk{
				ChunkID: compliance.ChunkID("demo-kyc", 1, 0),
				DocID:   "demo-kyc",
				Version: 1,
				Section: "Identity Verification",
				Text: "Customer identity must be verified against government-issued " +
					"identification. Corporate accounts additionally require proof of " +
					"address and beneficial ownership records. Politically exposed " +
					"persons require senior management approval.",
				Source: compliance.SourceInternal,
				Topic:  compliance.TopicKYC,
			},
			Score: 0.75,
		},
	}
}

func demoCaseHits() []vecstore.CaseHit {
	return []vecstore.CaseHit{
		{
			Case: compliance.Case{
				CaseID:    "demo-case-flag",
				Summary:   "Large transaction to high-risk jurisdiction without supporting documentation. Verdict: FLAG. Risk: HIGH.",
				Verdict:   compliance.VerdictFlag,
				RiskScore: 0.87,
			},
			Score: 0.91,
		},
		{
			Case: compliance.Case{
				CaseID:    "demo-case-clear",
				Summary:   "Standard transaction below reporting threshold between verified counterparties. Verdict: ACCEPTABLE. Risk: LOW.",
				Verdict:   compliance.VerdictAcceptable,
				RiskScore: 0.12,
			},
			Score: 0.73,
		},
	}
}

// answerExcerptLimit bounds each excerpt in a summarized answer.
const answerExcerptLimit = 400

// summarizeAnswer builds an answer from the top retrieved excerpts without a
// model call. Confidence is capped below what a real synthesis may claim.
func summarizeAnswer(hits []vecstore.ChunkHit) *reasoner.Answer {
	if len(hits) == 0 {
		return &reasoner.Answer{Text: "No matching policies were found for this question.", Confidence: 0}
	}

	top := hits
	if len(top) > 3 {
		top = top[:3]
	}
	var b strings.Builder
	b.WriteString("Summarized from the most relevant policies:")
	for _, hit := range top {
		fmt.Fprintf(&b, "\n[%s v%d", hit.Chunk.DocID, hit.Chunk.Version)
		if hit.Chunk.Section != "" {
			fmt.Fprintf(&b, " %s", hit.Chunk.Section)
		}
		fmt.Fprintf(&b, "] %s", truncate(hit.Chunk.Text, answerExcerptLimit))
	}

	confidence := hits[0].Score
	if confidence > 0.7 {
		confidence = 0.7
	}
	return &reasoner.Answer{Text: b.String(), Confidence: confidence}
}
