// Package decision implements the score combiner, the decision
// classifier, and durable storage for emitted decisions.
package decision

import (
	"github.com/mbd888/fraudpipeline/internal/rules"
	"github.com/mbd888/fraudpipeline/internal/transaction"
)

// ReasonMLHighRisk is appended when the model's fraud probability meets
// the configured high-risk threshold and the model weight is non-zero.
const ReasonMLHighRisk = "ml_high_risk"

// CombinerConfig carries the score combiner's weights and thresholds,
// spec.md §4.4/§4.5.
type CombinerConfig struct {
	RuleWeight      float64
	ModelWeight     float64
	HighRiskProb    float64
	ReviewThreshold float64
	BlockThreshold  float64
}

// DefaultCombinerConfig mirrors config.Default* so callers not wiring a
// config.Config (e.g. unit tests) still get spec-consistent behavior.
func DefaultCombinerConfig() CombinerConfig {
	return CombinerConfig{
		RuleWeight:      0.5,
		ModelWeight:     0.5,
		HighRiskProb:    0.7,
		ReviewThreshold: 30,
		BlockThreshold:  60,
	}
}

// Combine blends the rule engine's score with the model's fraud
// probability (0 when the model is disabled or fails open) into a
// final [0,100] score, and returns the reason list extended with
// ml_high_risk when applicable. probabilityValid distinguishes "the
// model returned 0.0 fraud probability" from "the model was not
// consulted at all"; the ml_high_risk tag is only ever added when the
// model was actually consulted.
//
// When the model was not consulted, the rule score stands on its own:
// applying RuleWeight here too would dilute it against an ML input that
// never participated, which on the default 0.5/0.5 split would halve
// every rule-only score and silently break the classifier's thresholds.
// RuleWeight only tempers the rule score when it is genuinely being
// blended with a model probability.
//
// invalid_amount is a saturating rule (spec.md §3.1): it must survive
// the blend at score 100 regardless of weights or model input, so a
// transaction with a missing or non-positive amount is always BLOCKed.
func Combine(ruleResult rules.Result, probability float64, probabilityValid bool, cfg CombinerConfig) (score float64, reasons []string) {
	if probabilityValid {
		score = cfg.RuleWeight*ruleResult.Score + cfg.ModelWeight*(probability*100)
	} else {
		score = ruleResult.Score
	}
	if ruleResult.Fired(rules.ReasonInvalidAmount) {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	reasons = append(reasons, ruleResult.Reasons...)
	if probabilityValid && cfg.ModelWeight > 0 && probability >= cfg.HighRiskProb {
		reasons = append(reasons, ReasonMLHighRisk)
	}
	return score, reasons
}

// Classify maps a final score to a terminal decision category. Boundaries
// are inclusive on the lower bound of the higher category: score strictly
// below ReviewThreshold is Allow, [ReviewThreshold, BlockThreshold) is
// Review, and score >= BlockThreshold is Block.
func Classify(score float64, cfg CombinerConfig) transaction.Category {
	switch {
	case score >= cfg.BlockThreshold:
		return transaction.Block
	case score >= cfg.ReviewThreshold:
		return transaction.Review
	default:
		return transaction.Allow
	}
}
