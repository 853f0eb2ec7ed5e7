package decision

import (
	"testing"

	"github.com/mbd888/fraudpipeline/internal/rules"
)

func TestCombineClampsToRange(t *testing.T) {
	cfg := DefaultCombinerConfig()
	res := rules.Result{Score: 100}

	score, _ := Combine(res, 1.0, true, cfg)
	if score != 100 {
		t.Errorf("expected clamped score 100, got %v", score)
	}
}

func TestCombineUsesFullRuleScoreWhenModelNotConsulted(t *testing.T) {
	cfg := DefaultCombinerConfig()
	res := rules.Result{Score: 60, Reasons: []string{"high_amount"}}

	score, _ := Combine(res, 0, false, cfg)
	if score != 60 {
		t.Errorf("expected undiluted rule score 60 when model wasn't consulted, got %v", score)
	}
	if Classify(score, cfg) != "BLOCK" {
		t.Errorf("expected BLOCK for score %v, got %v", score, Classify(score, cfg))
	}
}

func TestCombineInvalidAmountAlwaysSaturates(t *testing.T) {
	cfg := DefaultCombinerConfig()
	res := rules.Result{Score: 100, Reasons: []string{rules.ReasonInvalidAmount}, Bits: map[string]bool{rules.ReasonInvalidAmount: true}}

	score, _ := Combine(res, 0.1, true, cfg)
	if score != 100 {
		t.Errorf("expected invalid_amount to saturate the score to 100 even when blended with the model, got %v", score)
	}
	if Classify(score, cfg) != "BLOCK" {
		t.Errorf("expected BLOCK, got %v", Classify(score, cfg))
	}
}

func TestCombineWeightsBothInputs(t *testing.T) {
	cfg := CombinerConfig{RuleWeight: 0.6, ModelWeight: 0.4, HighRiskProb: 0.7, ReviewThreshold: 30, BlockThreshold: 60}
	res := rules.Result{Score: 50}

	score, _ := Combine(res, 0.5, true, cfg)
	want := 0.6*50 + 0.4*50
	if score != want {
		t.Errorf("expected %v, got %v", want, score)
	}
}

func TestCombineMLHighRiskTag(t *testing.T) {
	cfg := DefaultCombinerConfig()
	res := rules.Result{Score: 10, Reasons: []string{"night_time"}}

	_, reasons := Combine(res, 0.8, true, cfg)
	found := false
	for _, r := range reasons {
		if r == ReasonMLHighRisk {
			found = true
		}
	}
	if !found {
		t.Errorf("expected ml_high_risk tag when probability >= threshold, got %v", reasons)
	}
}

func TestCombineNoTagWhenModelNotConsulted(t *testing.T) {
	cfg := DefaultCombinerConfig()
	res := rules.Result{Score: 10}

	_, reasons := Combine(res, 0, false, cfg)
	for _, r := range reasons {
		if r == ReasonMLHighRisk {
			t.Errorf("did not expect ml_high_risk when model was not consulted")
		}
	}
}

func TestCombineNoTagWhenModelWeightZero(t *testing.T) {
	cfg := DefaultCombinerConfig()
	cfg.ModelWeight = 0
	res := rules.Result{Score: 10}

	_, reasons := Combine(res, 0.99, true, cfg)
	for _, r := range reasons {
		if r == ReasonMLHighRisk {
			t.Errorf("did not expect ml_high_risk when model weight is zero")
		}
	}
}

func TestClassifyBoundaries(t *testing.T) {
	cfg := DefaultCombinerConfig()

	tests := []struct {
		score float64
		want  string
	}{
		{0, "ALLOW"},
		{29.99, "ALLOW"},
		{30, "REVIEW"},
		{59.99, "REVIEW"},
		{60, "BLOCK"},
		{100, "BLOCK"},
	}
	for _, tt := range tests {
		got := Classify(tt.score, cfg)
		if string(got) != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestClassifyIsMonotonic(t *testing.T) {
	cfg := DefaultCombinerConfig()
	prev := Classify(0, cfg)
	for s := 1.0; s <= 100; s++ {
		cur := Classify(s, cfg)
		if cur.Less(prev) {
			t.Fatalf("classification regressed at score %v: %v after %v", s, cur, prev)
		}
		prev = cur
	}
}
