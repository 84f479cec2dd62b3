package engine

import (
	"regexp"
	"strings"

	"github.com/scrypster/invoice-memory/pkg/types"
)

// Phrases and labels recognized when translating feedback.
const (
	labelLeistungsdatum = "Leistungsdatum"
	phraseMwStInkl      = "MwSt. inkl."
	phraseInclVAT       = "incl. VAT"
)

// Strategy names understood by the apply stage.
const (
	StrategyExtractFromText       = "extract_from_text"
	StrategyPOFromItems           = "po_from_items"
	StrategyCurrencyFromText      = "currency_from_text"
	StrategyVATIncludedDetection  = "vat_included_detection"
	StrategyVATIncludedAdjustment = "vat_included_adjustment"
	StrategyTotalFromItems        = "total_from_items"
)

// Starting confidences of memories synthesized from feedback.
const (
	serviceDateConfidence = 0.75
	vatIncludedConfidence = 0.8
	currencyConfidence    = 0.7
	skuMappingConfidence  = 0.6
	genericConfidence     = 0.7
)

var (
	skuKeywords   = []string{"Seefracht", "Freight", "Shipping", "Versand"}
	quotedTokenRe = regexp.MustCompile(`["'“„]([^"'“”„]+)["'”]`)
)

// memoryFromCorrection builds the unsaved memory a single feedback correction
// implies. Four archetypes become specialized vendor memories; anything else
// becomes a generic correction memory that always matches its field.
func (m *Manager) memoryFromCorrection(vendor string, c types.FeedbackCorrection) *types.Memory {
	if rule, confidence, ok := vendorRuleFor(vendor, c); ok {
		return m.vendorMemory(vendor, rule, confidence)
	}
	return m.correctionMemory(vendor, c.Field, types.HumanCorrectionPattern, c.CorrectedValue, c.Reason, genericConfidence)
}

// vendorRuleFor matches c against the recognized correction archetypes.
func vendorRuleFor(vendor string, c types.FeedbackCorrection) (types.VendorRule, float64, bool) {
	reason := c.Reason

	switch c.Field {
	case types.FieldServiceDate:
		if strings.Contains(reason, labelLeistungsdatum) {
			return types.VendorRule{
				TriggerSignal: labelLeistungsdatum,
				Action: types.VendorAction{
					Kind:        types.ActionFieldMapping,
					TargetField: types.FieldServiceDate,
					Strategy:    StrategyExtractFromText,
				},
				Pattern: "service_date_from_label",
			}, serviceDateConfidence, true
		}

	case types.FieldVATIncluded:
		if phrase := vatPhraseIn(reason); phrase != "" {
			return types.VendorRule{
				TriggerSignal: phrase,
				Action: types.VendorAction{
					Kind:        types.ActionComputation,
					TargetField: types.FieldVATIncluded,
					Value:       true,
					Strategy:    StrategyVATIncludedDetection,
				},
				Pattern: "vat_included_from_keyword",
			}, vatIncludedConfidence, true
		}

	case types.FieldCurrency:
		if strings.EqualFold(strings.TrimSpace(types.Stringify(c.CorrectedValue)), "EUR") {
			return types.VendorRule{
				TriggerSignal: vendor,
				Action: types.VendorAction{
					Kind:        types.ActionFieldMapping,
					TargetField: types.FieldCurrency,
					Value:       "EUR",
				},
				Pattern: "currency_default_eur",
			}, currencyConfidence, true
		}

	case types.FieldSKU:
		if keyword := skuKeywordIn(reason); keyword != "" {
			return types.VendorRule{
				TriggerSignal: keyword,
				Action: types.VendorAction{
					Kind:        types.ActionFieldMapping,
					TargetField: types.FieldSKU,
					Value:       c.CorrectedValue,
				},
				Pattern: "sku_from_keyword",
			}, skuMappingConfidence, true
		}
	}

	return types.VendorRule{}, 0, false
}

// vatPhraseIn returns the canonical VAT-inclusive phrase found in s, or "".
func vatPhraseIn(s string) string {
	lower := strings.ToLower(s)
	for _, phrase := range []string{phraseMwStInkl, phraseInclVAT} {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return phrase
		}
	}
	return ""
}

// skuKeywordIn returns the first known freight keyword in s, else the first
// quoted token, else "".
func skuKeywordIn(s string) string {
	lower := strings.ToLower(s)
	for _, kw := range skuKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw
		}
	}
	if m := quotedTokenRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
