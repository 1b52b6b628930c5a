package reasoner

import (
	"fmt"
	"strings"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/vecstore"
)

// systemPrompt is sent with every call. The JSON instruction pairs with the
// json_object response format on the request.
const systemPrompt = "You are an expert compliance analyst specializing in AML and KYC regulations. Always respond in JSON format."

// excerptLimit bounds how much of a policy chunk or case summary enters the
// prompt, keeping prompt size proportional to top-K rather than corpus size.
const excerptLimit = 500

// BuildEvaluationPrompt renders the user prompt for a transaction
// evaluation. The response contract named at the end is what parseSynthesis
// validates against.
func BuildEvaluationPrompt(tx *compliance.Transaction, policies []vecstore.ChunkHit, cases []vecstore.CaseHit) string {
	var b strings.Builder
	b.WriteString("You are a compliance analyst evaluating a financial transaction against AML/KYC policies.\n\n")

	b.WriteString("Transaction Details:\n")
	b.WriteString(tx.Text())
	b.WriteString("\n\n")

	b.WriteString("Relevant Policies:\n")
	b.WriteString(formatPolicyContext(policies))
	b.WriteString("\n\n")

	b.WriteString("Similar Historical Cases:\n")
	b.WriteString(formatSimilarCases(cases))
	b.WriteString("\n\n")

	b.WriteString("Task:\n")
	b.WriteString("Analyze this transaction and provide:\n")
	b.WriteString("1. Verdict: one of [FLAG, NEEDS_REVIEW, ACCEPTABLE]\n")
	b.WriteString("2. Risk Level: one of [HIGH, MEDIUM, LOW]\n")
	b.WriteString("3. Risk Score: a number between 0.0 and 1.0\n")
	b.WriteString("4. Reasoning: detailed explanation citing specific policies\n")
	b.WriteString("5. Confidence: your confidence level (0.0 to 1.0)\n\n")

	b.WriteString("Respond in JSON format:\n")
	b.WriteString(`{"verdict": "FLAG|NEEDS_REVIEW|ACCEPTABLE", "risk_level": "HIGH|MEDIUM|LOW", "risk_score": 0.0, "reasoning": "explanation with policy citations", "confidence": 0.0}`)

	return b.String()
}

// BuildAnswerPrompt renders the user prompt for a compliance question.
func BuildAnswerPrompt(question string, policies []vecstore.ChunkHit) string {
	var b strings.Builder
	b.WriteString("You are a compliance expert answering questions about AML/KYC policies.\n\n")

	b.WriteString("Question:\n")
	b.WriteString(question)
	b.WriteString("\n\n")

	b.WriteString("Relevant Policies:\n")
	b.WriteString(formatPolicyContext(policies))
	b.WriteString("\n\n")

	b.WriteString("Provide a clear, concise answer based on the policies above. Cite specific policy sections.\n\n")
	b.WriteString("Respond in JSON format:\n")
	b.WriteString(`{"answer": "your answer with policy citations", "confidence": 0.0}`)

	return b.String()
}

func formatPolicyContext(policies []vecstore.ChunkHit) string {
	if len(policies) == 0 {
		return "No matching policies found."
	}

	parts := make([]string, 0, len(policies))
	for i, hit := range policies {
		section := hit.Chunk.Section
		if section == "" {
			section = "N/A"
		}
		parts = append(parts, fmt.Sprintf(
			"[Policy %d] %s v%d\nSection: %s\nSource: %s | Relevance: %.2f\nContent: %s",
			i+1, hit.Chunk.DocID, hit.Chunk.Version, section, hit.Chunk.Source,
			hit.Score, truncate(hit.Chunk.Text, excerptLimit)))
	}
	return strings.Join(parts, "\n---\n")
}

func formatSimilarCases(cases []vecstore.CaseHit) string {
	if len(cases) == 0 {
		return "No similar historical cases found."
	}

	parts := make([]string, 0, len(cases))
	for i, hit := range cases {
		parts = append(parts, fmt.Sprintf(
			"[Case %d] %s\nVerdict: %s | Risk Score: %.2f | Similarity: %.2f\nSummary: %s",
			i+1, hit.Case.CaseID, hit.Case.Verdict, hit.Case.RiskScore,
			hit.Score, truncate(hit.Case.Summary, excerptLimit)))
	}
	return strings.Join(parts, "\n---\n")
}

// truncate cuts s at limit bytes on a rune boundary, appending an ellipsis
// marker when anything was dropped.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
