package engine

import (
	"reflect"
	"strings"
	"testing"

	"github.com/scrypster/invoice-memory/pkg/types"
)

func corr(field string, confidence float64) types.Correction {
	return types.Correction{Field: field, ProposedValue: "x", Confidence: confidence, MemorySource: "mem:test"}
}

func TestDecide(t *testing.T) {
	cfg := DefaultConfig()

	cases := []struct {
		name        string
		confidence  float64
		corrections []types.Correction
		want        types.Decision
		review      bool
		reasoning   string
	}{
		{"clean accept", 0.9, nil, types.DecisionAutoAccept, false, "no corrections"},
		{"accept at threshold", 0.85, nil, types.DecisionAutoAccept, false, "no corrections"},
		{"reliable corrections", 0.72, []types.Correction{corr(types.FieldServiceDate, 0.72)}, types.DecisionAutoCorrect, false, "reliable"},
		{"high confidence with corrections", 0.9, []types.Correction{corr(types.FieldCurrency, 0.9)}, types.DecisionAutoCorrect, false, "reliable"},
		{"below escalate", 0.39, nil, types.DecisionEscalate, true, "below escalation threshold"},
		{"financial risk", 0.6, []types.Correction{corr(types.FieldAmount, 0.65)}, types.DecisionEscalate, true, "financial_impact"},
		{"low confidence risk", 0.6, []types.Correction{corr(types.FieldCurrency, 0.55)}, types.DecisionEscalate, true, "low_confidence_corrections"},
		{"medium without risk", 0.6, []types.Correction{corr(types.FieldCurrency, 0.65)}, types.DecisionEscalate, true, "Medium confidence"},
		{"medium baseline", 0.7, nil, types.DecisionAutoCorrect, false, "reliable"},
		{"unreliable above auto-correct", 0.66, []types.Correction{corr(types.FieldCurrency, 0.66)}, types.DecisionEscalate, true, "Medium confidence"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := cfg.Decide(tc.confidence, tc.corrections)
			if got.Decision != tc.want || got.RequiresHumanReview != tc.review {
				t.Errorf("Decide(%f) = %s review=%v, want %s review=%v (%s)",
					tc.confidence, got.Decision, got.RequiresHumanReview, tc.want, tc.review, got.Reasoning)
			}
			if !strings.Contains(got.Reasoning, tc.reasoning) {
				t.Errorf("reasoning %q does not mention %q", got.Reasoning, tc.reasoning)
			}
		})
	}
}

// TestDecide_LowConfidenceAlwaysEscalates verifies confidence below 0.4 forces review.
func TestDecide_LowConfidenceAlwaysEscalates(t *testing.T) {
	cfg := DefaultConfig()
	sets := [][]types.Correction{
		nil,
		{corr(types.FieldCurrency, 0.95)},
		{corr(types.FieldAmount, 0.2), corr(types.FieldSKU, 0.9)},
	}
	for _, c := range []float64{0, 0.1, 0.25, 0.399} {
		for _, set := range sets {
			if got := cfg.Decide(c, set); !got.RequiresHumanReview {
				t.Errorf("Decide(%f, %d corrections) did not require review", c, len(set))
			}
		}
	}
}

// TestDecide_OrderIndependent verifies the decision ignores correction order.
func TestDecide_OrderIndependent(t *testing.T) {
	cfg := DefaultConfig()
	set := []types.Correction{
		corr(types.FieldCurrency, 0.8),
		corr(types.FieldVATAmount, 0.5),
		corr(types.FieldSKU, 0.9),
		corr(types.FieldPONumber, 0.7),
		corr(types.FieldServiceDate, 0.7),
	}
	reversed := make([]types.Correction, len(set))
	for i := range set {
		reversed[len(set)-1-i] = set[i]
	}

	a := cfg.Decide(0.5, set)
	b := cfg.Decide(0.5, reversed)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Decide differs by order: %+v vs %+v", a, b)
	}
	want := []string{RiskFinancialImpact, RiskLowConfidenceCorrections, RiskMultipleCorrections}
	if !reflect.DeepEqual(a.RiskFactors, want) {
		t.Errorf("RiskFactors = %v, want %v", a.RiskFactors, want)
	}

	// Repeated calls are identical.
	if c := cfg.Decide(0.5, set); !reflect.DeepEqual(a, c) {
		t.Errorf("Decide is not deterministic: %+v vs %+v", a, c)
	}
}
