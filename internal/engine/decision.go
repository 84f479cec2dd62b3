package engine

import (
	"fmt"
	"strings"

	"github.com/scrypster/invoice-memory/pkg/types"
)

// Risk factors that force escalation of a medium-confidence invoice.
const (
	RiskFinancialImpact          = "financial_impact"
	RiskLowConfidenceCorrections = "low_confidence_corrections"
	RiskMultipleCorrections      = "multiple_corrections"
)

var financialFields = map[string]bool{
	types.FieldAmount:     true,
	types.FieldVATAmount:  true,
	types.FieldTotalPrice: true,
}

// DecisionOutcome is the result of Decide.
type DecisionOutcome struct {
	Decision            types.Decision
	RequiresHumanReview bool
	Reasoning           string
	RiskFactors         []string
}

// Decide chooses between auto-accept, auto-correct and escalation. It is a
// pure function of the thresholds, the overall confidence and the set of
// corrections; their order does not matter.
func (c Config) Decide(confidence float64, corrections []types.Correction) DecisionOutcome {
	if confidence >= c.AutoAcceptThreshold && len(corrections) == 0 {
		return DecisionOutcome{
			Decision:  types.DecisionAutoAccept,
			Reasoning: fmt.Sprintf("High confidence (%.2f) and no corrections needed", confidence),
		}
	}

	if confidence >= c.AutoCorrectThreshold && c.allReliable(corrections) {
		return DecisionOutcome{
			Decision: types.DecisionAutoCorrect,
			Reasoning: fmt.Sprintf("Confidence %.2f meets auto-correct threshold %.2f and all %d corrections are reliable",
				confidence, c.AutoCorrectThreshold, len(corrections)),
		}
	}

	if confidence < c.EscalateThreshold {
		return DecisionOutcome{
			Decision:            types.DecisionEscalate,
			RequiresHumanReview: true,
			Reasoning:           fmt.Sprintf("Low confidence (%.2f) below escalation threshold %.2f", confidence, c.EscalateThreshold),
		}
	}

	if risks := c.riskFactors(corrections); len(risks) > 0 {
		return DecisionOutcome{
			Decision:            types.DecisionEscalate,
			RequiresHumanReview: true,
			Reasoning:           fmt.Sprintf("Risk factors present: %s", strings.Join(risks, ", ")),
			RiskFactors:         risks,
		}
	}

	return DecisionOutcome{
		Decision:            types.DecisionEscalate,
		RequiresHumanReview: true,
		Reasoning: fmt.Sprintf("Medium confidence (%.2f) without a clean accept or a fully reliable correction set; escalating for review",
			confidence),
	}
}

func (c Config) allReliable(corrections []types.Correction) bool {
	for _, corr := range corrections {
		if corr.Confidence < c.ReliableCorrectionConfidence {
			return false
		}
	}
	return true
}

// riskFactors lists the risk factors present, in a fixed order.
func (c Config) riskFactors(corrections []types.Correction) []string {
	var financial, lowConfidence bool
	for _, corr := range corrections {
		if financialFields[corr.Field] {
			financial = true
		}
		if corr.Confidence < c.LowConfidenceCorrection {
			lowConfidence = true
		}
	}

	var risks []string
	if financial {
		risks = append(risks, RiskFinancialImpact)
	}
	if lowConfidence {
		risks = append(risks, RiskLowConfidenceCorrections)
	}
	if len(corrections) > c.MaxCorrections {
		risks = append(risks, RiskMultipleCorrections)
	}
	return risks
}
