// Package reasoner adapts an LLM chat service into the structured synthesis
// contract the decision engine consumes. The model's JSON output is parsed
// and validated in full; anything out of contract surfaces as a
// SynthesisUnavailableError so the caller takes the deterministic fallback,
// never a best-effort read of a half-valid response.
package reasoner

import (
	"context"
	"errors"
	"fmt"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
	"arbiter-hq/themis/pkg/vecstore"
)

// Synthesis is the validated output of one reasoning call.
type Synthesis struct {
	Verdict    compliance.Verdict
	RiskTier   compliance.RiskTier
	RiskScore  float64 // In [0,1]
	Reasoning  string
	Confidence float64 // In [0,1]
}

// Answer is the validated output of a compliance question call.
type Answer struct {
	Text       string
	Confidence float64 // In [0,1]
}

// Reasoner produces structured compliance judgments from retrieved evidence.
// Both methods are bounded by the configured timeout and fail with a
// SynthesisUnavailableError when the service is down, times out, or answers
// outside the response contract.
type Reasoner interface {
	// Synthesize produces a verdict for a transaction given retrieved policy
	// chunks and similar cases.
	Synthesize(ctx context.Context, tx *compliance.Transaction, policies []vecstore.ChunkHit, cases []vecstore.CaseHit) (*Synthesis, error)

	// Answer responds to a free-form compliance question over retrieved
	// policy context.
	Answer(ctx context.Context, question string, policies []vecstore.ChunkHit) (*Answer, error)
}

// NewFromConfig builds the Reasoner named by the configuration.
func NewFromConfig(cfg config.ReasonerConfig) (Reasoner, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIReasoner(cfg)
	case "none", "":
		return Disabled{}, nil
	default:
		return nil, compliance.NewInputError("reasoner.provider",
			fmt.Sprintf("unknown provider %q", cfg.Provider))
	}
}

// Disabled reports the reasoning service as unavailable on every call,
// sending the engine straight to the deterministic rule fallback. Used when
// no provider is configured and in demo mode.
type Disabled struct{}

// Synthesize always fails with a SynthesisUnavailableError.
func (Disabled) Synthesize(context.Context, *compliance.Transaction, []vecstore.ChunkHit, []vecstore.CaseHit) (*Synthesis, error) {
	return nil, compliance.NewSynthesisUnavailableError("disabled", errors.New("no reasoner provider configured"))
}

// Answer always fails with a SynthesisUnavailableError.
func (Disabled) Answer(context.Context, string, []vecstore.ChunkHit) (*Answer, error) {
	return nil, compliance.NewSynthesisUnavailableError("disabled", errors.New("no reasoner provider configured"))
}
