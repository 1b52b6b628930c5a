// Package risk computes deterministic risk scores for transactions. The
// scorer is a pure function of its inputs: no I/O, no clock, no randomness.
// Identical inputs always produce the identical score, tier, and factor
// breakdown, which is what makes decisions auditable after the fact.
package risk

import (
	"fmt"
	"math"
	"strings"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
)

// Assessment is the scorer's output: the blended score, its tier, and the
// per-component breakdown that goes on the decision record.
type Assessment struct {
	Score   float64
	Tier    compliance.RiskTier
	Factors []compliance.RiskFactor
}

// Scorer blends policy relevance, case history, transaction amount, and
// jurisdiction risk into a single score in [0, 1].
type Scorer struct {
	cfg        config.RiskConfig
	prohibited map[string]struct{}
	monitored  map[string]struct{}
}

// NewScorer creates a scorer from configuration. Country matching is
// case-insensitive.
func NewScorer(cfg config.RiskConfig) *Scorer {
	s := &Scorer{
		cfg:        cfg,
		prohibited: make(map[string]struct{}, len(cfg.ProhibitedCountries)),
		monitored:  make(map[string]struct{}, len(cfg.MonitoredCountries)),
	}
	for _, c := range cfg.ProhibitedCountries {
		s.prohibited[normalizeCountry(c)] = struct{}{}
	}
	for _, c := range cfg.MonitoredCountries {
		s.monitored[normalizeCountry(c)] = struct{}{}
	}
	return s
}

// Score computes the weighted risk score for a transaction given its
// retrieved evidence. The function never panics: if any component computes
// to a non-finite value the assessment fails safe to score 1.0, HIGH.
func (s *Scorer) Score(txn *compliance.Transaction, citations []compliance.PolicyCitation, cases []compliance.CaseRef) Assessment {
	policyMatch := meanRelevance(citations)
	caseSimilarity := flagWeightedSimilarity(cases)
	amountFactor := s.amountFactor(txn)
	countryRisk, countryDetail := s.countryRisk(txn)

	score := s.cfg.WeightPolicyMatch*policyMatch +
		s.cfg.WeightCaseSimilarity*caseSimilarity +
		s.cfg.WeightAmountFactor*amountFactor +
		s.cfg.WeightCountryRisk*countryRisk

	factors := []compliance.RiskFactor{
		{
			Name:   "policy_match",
			Value:  policyMatch,
			Weight: s.cfg.WeightPolicyMatch,
			Detail: fmt.Sprintf("mean relevance over %d citations", len(citations)),
		},
		{
			Name:   "case_similarity",
			Value:  caseSimilarity,
			Weight: s.cfg.WeightCaseSimilarity,
			Detail: fmt.Sprintf("similarity-weighted FLAG fraction over %d cases", len(cases)),
		},
		{
			Name:   "amount_factor",
			Value:  amountFactor,
			Weight: s.cfg.WeightAmountFactor,
			Detail: fmt.Sprintf("log-scaled, saturating at %.2f", s.cfg.VeryHighAmountThreshold),
		},
		{
			Name:   "country_risk",
			Value:  countryRisk,
			Weight: s.cfg.WeightCountryRisk,
			Detail: countryDetail,
		},
	}

	if !isFinite01able(score) {
		return Assessment{Score: 1.0, Tier: compliance.TierHigh, Factors: factors}
	}

	score = Clamp01(score)
	return Assessment{Score: score, Tier: s.Tier(score), Factors: factors}
}

// Tier maps a score to its risk tier. Cutoffs are inclusive at the lower
// bound of each tier.
func (s *Scorer) Tier(score float64) compliance.RiskTier {
	switch {
	case score >= s.cfg.HighTierCutoff:
		return compliance.TierHigh
	case score >= s.cfg.MediumTierCutoff:
		return compliance.TierMedium
	default:
		return compliance.TierLow
	}
}

// ProhibitedEndpoint reports whether either endpoint of the transaction is
// in a prohibited jurisdiction, and which one matched first.
func (s *Scorer) ProhibitedEndpoint(txn *compliance.Transaction) (string, bool) {
	if txn == nil {
		return "", false
	}
	if _, ok := s.prohibited[normalizeCountry(txn.SenderCountry)]; ok {
		return txn.SenderCountry, true
	}
	if _, ok := s.prohibited[normalizeCountry(txn.ReceiverCountry)]; ok {
		return txn.ReceiverCountry, true
	}
	return "", false
}

// MonitoredEndpoint reports whether either endpoint of the transaction is in
// a monitored jurisdiction.
func (s *Scorer) MonitoredEndpoint(txn *compliance.Transaction) (string, bool) {
	if txn == nil {
		return "", false
	}
	if _, ok := s.monitored[normalizeCountry(txn.SenderCountry)]; ok {
		return txn.SenderCountry, true
	}
	if _, ok := s.monitored[normalizeCountry(txn.ReceiverCountry)]; ok {
		return txn.ReceiverCountry, true
	}
	return "", false
}

// meanRelevance averages citation relevance; no citations means no policy
// signal, not maximum risk.
func meanRelevance(citations []compliance.PolicyCitation) float64 {
	if len(citations) == 0 {
		return 0
	}
	var sum float64
	for _, c := range citations {
		sum += c.Relevance
	}
	return sum / float64(len(citations))
}

// flagWeightedSimilarity computes the fraction of case similarity mass that
// belongs to FLAG verdicts. A transaction resembling past flagged cases
// scores near 1; one resembling only cleared cases scores near 0.
func flagWeightedSimilarity(cases []compliance.CaseRef) float64 {
	var total, flagged float64
	for _, c := range cases {
		total += c.Similarity
		if c.Verdict == compliance.VerdictFlag {
			flagged += c.Similarity
		}
	}
	if total <= 0 {
		return 0
	}
	return flagged / total
}

// amountFactor grows logarithmically with the amount and saturates at the
// configured very-high reference, so a 10x jump in amount moves the factor
// far less at the top of the range than at the bottom.
func (s *Scorer) amountFactor(txn *compliance.Transaction) float64 {
	if txn == nil || txn.Amount <= 0 {
		return 0
	}
	ref := s.cfg.VeryHighAmountThreshold
	if ref <= 0 {
		return 0
	}
	return Clamp01(math.Log1p(txn.Amount) / math.Log1p(ref))
}

// countryRisk returns the jurisdiction component: prohibited endpoints score
// 1.0, monitored endpoints score the configured fraction, everything else 0.
func (s *Scorer) countryRisk(txn *compliance.Transaction) (float64, string) {
	if country, ok := s.ProhibitedEndpoint(txn); ok {
		return 1.0, fmt.Sprintf("prohibited jurisdiction: %s", country)
	}
	if country, ok := s.MonitoredEndpoint(txn); ok {
		return s.cfg.MonitoredCountryRisk, fmt.Sprintf("monitored jurisdiction: %s", country)
	}
	return 0, "no flagged jurisdictions"
}

// Clamp01 clamps x to [0, 1].
func Clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func isFinite01able(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func normalizeCountry(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
