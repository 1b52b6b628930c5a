package risk

import (
	"fmt"

	"arbiter-hq/themis/pkg/compliance"
)

// RuleResult is the outcome of the deterministic fallback rules, used when
// model synthesis is unavailable. It is computed from the transaction and
// whatever policy context was retrieved, with zero external calls.
type RuleResult struct {
	Verdict compliance.Verdict
	Score   float64
	Tier    compliance.RiskTier
	Reasons []string
}

// RuleEvaluate applies the conservative fallback ruleset:
//
//   - FLAG when the amount exceeds the high threshold and an endpoint is in
//     a prohibited jurisdiction
//   - NEEDS_REVIEW when the amount exceeds the medium threshold, or an
//     endpoint is in a monitored jurisdiction, or mean policy relevance is
//     above the configured bar
//   - ACCEPTABLE otherwise
//
// The verdict errs toward review: a rule-based ACCEPTABLE requires the
// transaction to trip none of the escalation conditions.
func (s *Scorer) RuleEvaluate(txn *compliance.Transaction, citations []compliance.PolicyCitation) RuleResult {
	var reasons []string

	amount := 0.0
	if txn != nil {
		amount = txn.Amount
	}

	prohibited := s.prohibitedEndpoints(txn)
	monitoredCountry, monitored := s.MonitoredEndpoint(txn)
	relevance := meanRelevance(citations)

	score := 0.0
	if amount > s.cfg.HighAmountThreshold {
		score += 0.3
		reasons = append(reasons, fmt.Sprintf("amount %.2f exceeds high threshold %.2f",
			amount, s.cfg.HighAmountThreshold))
	}
	if amount > s.cfg.VeryHighAmountThreshold {
		score += 0.2
		reasons = append(reasons, fmt.Sprintf("amount %.2f exceeds very high threshold %.2f",
			amount, s.cfg.VeryHighAmountThreshold))
	}
	for _, country := range prohibited {
		score += 0.4
		reasons = append(reasons, fmt.Sprintf("%s is a prohibited jurisdiction", country))
	}
	if top := topRelevance(citations); top > 0.8 {
		score += 0.2
		reasons = append(reasons, fmt.Sprintf("top policy relevance %.2f above 0.80", top))
	}
	score = Clamp01(score)

	var verdict compliance.Verdict
	switch {
	case amount > s.cfg.HighAmountThreshold && len(prohibited) > 0:
		verdict = compliance.VerdictFlag
	case amount > s.cfg.MediumAmountThreshold:
		verdict = compliance.VerdictNeedsReview
		reasons = append(reasons, fmt.Sprintf("amount %.2f exceeds medium threshold %.2f",
			amount, s.cfg.MediumAmountThreshold))
	case monitored:
		verdict = compliance.VerdictNeedsReview
		reasons = append(reasons, fmt.Sprintf("%s is a monitored jurisdiction", monitoredCountry))
	case relevance > s.cfg.PolicyRelevanceBar:
		verdict = compliance.VerdictNeedsReview
		reasons = append(reasons, fmt.Sprintf("mean policy relevance %.2f above %.2f",
			relevance, s.cfg.PolicyRelevanceBar))
	default:
		verdict = compliance.VerdictAcceptable
		if len(reasons) == 0 {
			reasons = append(reasons, "no escalation conditions met")
		}
	}

	return RuleResult{
		Verdict: verdict,
		Score:   score,
		Tier:    s.Tier(score),
		Reasons: reasons,
	}
}

// Reconcile checks a synthesized verdict against the deterministic tier.
// Extreme disagreement, a HIGH tier with an ACCEPTABLE verdict or a LOW tier
// with a FLAG verdict, forces NEEDS_REVIEW so neither signal silently
// overrides the other. Returns the final verdict and whether it changed.
func Reconcile(verdict compliance.Verdict, tier compliance.RiskTier) (compliance.Verdict, bool) {
	if tier == compliance.TierHigh && verdict == compliance.VerdictAcceptable {
		return compliance.VerdictNeedsReview, true
	}
	if tier == compliance.TierLow && verdict == compliance.VerdictFlag {
		return compliance.VerdictNeedsReview, true
	}
	return verdict, false
}

// prohibitedEndpoints lists prohibited-jurisdiction endpoints; a transaction
// between two prohibited countries yields two entries.
func (s *Scorer) prohibitedEndpoints(txn *compliance.Transaction) []string {
	if txn == nil {
		return nil
	}
	var out []string
	if _, ok := s.prohibited[normalizeCountry(txn.SenderCountry)]; ok {
		out = append(out, txn.SenderCountry)
	}
	if _, ok := s.prohibited[normalizeCountry(txn.ReceiverCountry)]; ok {
		out = append(out, txn.ReceiverCountry)
	}
	return out
}

func topRelevance(citations []compliance.PolicyCitation) float64 {
	var top float64
	for _, c := range citations {
		if c.Relevance > top {
			top = c.Relevance
		}
	}
	return top
}
