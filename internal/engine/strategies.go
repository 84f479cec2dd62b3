package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/scrypster/invoice-memory/pkg/types"
)

var (
	leistungsdatumRe = regexp.MustCompile(`Leistungsdatum[^0-9]*(\d{4}-\d{2}-\d{2})`)
	poTokenRe        = regexp.MustCompile(`\bPO[\s:#-]+([A-Za-z0-9][\w-]*)`)
	vatInclusiveRe   = regexp.MustCompile(`(?i)mwst\.?\s*inkl|incl\.?\s*vat`)
)

// currencyCues are checked in order; the first currency with a cue present
// in the raw text wins.
var currencyCues = []struct {
	code string
	re   *regexp.Regexp
}{
	{"EUR", regexp.MustCompile(`(?i)€|\bEUR\b|\beuros?\b`)},
	{"USD", regexp.MustCompile(`(?i)\$|\bUSD\b|\bdollars?\b`)},
	{"GBP", regexp.MustCompile(`(?i)£|\bGBP\b|\bpounds?\b`)},
}

// computation is a secondary strategy that derives a value from the invoice.
type computation func(inv *types.Invoice, action types.VendorAction) (any, string)

var computations = map[string]computation{
	StrategyVATIncludedAdjustment: computeVATAdjustment,
	StrategyTotalFromItems:        computeTotalFromItems,
}

// vendorTriggerMatches reports whether a vendor memory's trigger fires: the
// raw text contains the trigger literally, or the trigger is the vendor name.
func vendorTriggerMatches(inv *types.Invoice, rule *types.VendorRule) bool {
	if rule.TriggerSignal == "" {
		return false
	}
	return rule.TriggerSignal == inv.Vendor || strings.Contains(inv.RawText, rule.TriggerSignal)
}

// deriveVendorValue returns the candidate value a vendor memory proposes for
// its target field, with a short description of how it was found. A nil
// value means no candidate.
func deriveVendorValue(inv *types.Invoice, rule *types.VendorRule) (any, string) {
	action := rule.Action
	data := inv.ExtractedData

	switch action.Kind {
	case types.ActionFieldMapping:
		switch {
		case action.Strategy == StrategyExtractFromText && rule.TriggerSignal == labelLeistungsdatum:
			if m := leistungsdatumRe.FindStringSubmatch(inv.RawText); m != nil {
				return m[1], fmt.Sprintf("extracted date after %q in raw text", labelLeistungsdatum)
			}
			return nil, ""
		case action.SourceField != "" && data.Has(action.SourceField):
			v, _ := data.Get(action.SourceField)
			return v, fmt.Sprintf("copied from %s", action.SourceField)
		case action.Value != nil:
			return action.Value, "vendor default value"
		}

	case types.ActionInference:
		switch action.Strategy {
		case StrategyPOFromItems:
			if data.Has(types.FieldPONumber) {
				return nil, ""
			}
			for _, item := range data.LineItems() {
				if m := poTokenRe.FindStringSubmatch(item.Description); m != nil {
					return m[1], fmt.Sprintf("PO reference in line item %q", item.Description)
				}
			}
		case StrategyCurrencyFromText:
			for _, cue := range currencyCues {
				if cue.re.MatchString(inv.RawText) {
					return cue.code, fmt.Sprintf("%s cue in raw text", cue.code)
				}
			}
		}

	case types.ActionComputation:
		if action.Strategy == StrategyVATIncludedDetection {
			if vatInclusiveRe.MatchString(inv.RawText) {
				return true, "VAT-inclusive phrasing in raw text"
			}
			return nil, ""
		}
		if compute, ok := computations[action.Strategy]; ok {
			return compute(inv, action)
		}
	}

	return nil, ""
}

// computeVATAdjustment derives the net amount of a VAT-inclusive total.
// The rate comes from the vatRate field, else the action's value; rates
// above 1 are read as percentages.
func computeVATAdjustment(inv *types.Invoice, action types.VendorAction) (any, string) {
	data := inv.ExtractedData
	if included, ok := data.Bool(types.FieldVATIncluded); !ok || !included {
		return nil, ""
	}
	amount, ok := data.Float(types.FieldAmount)
	if !ok {
		return nil, ""
	}

	rate, ok := data.Float(types.FieldVATRate)
	if !ok {
		rate, ok = types.ToFloat(action.Value)
	}
	if !ok || rate < 0 {
		return nil, ""
	}
	if rate > 1 {
		rate /= 100
	}

	return types.RoundTo2(amount / (1 + rate)), fmt.Sprintf("net of %.0f%% VAT included in %.2f", rate*100, amount)
}

// computeTotalFromItems sums the line-item totals.
func computeTotalFromItems(inv *types.Invoice, _ types.VendorAction) (any, string) {
	items := inv.ExtractedData.LineItems()
	var (
		sum   float64
		found bool
	)
	for _, item := range items {
		if item.TotalPrice != nil {
			sum += *item.TotalPrice
			found = true
		}
	}
	if !found {
		return nil, ""
	}
	return types.RoundTo2(sum), fmt.Sprintf("sum of %d line items", len(items))
}

// correctionMatches reports whether a correction memory applies to the
// current value of its field. Invalid regular expressions fall back to
// substring containment.
func correctionMatches(rule *types.CorrectionRule, current any) bool {
	if rule.OriginalPattern == types.HumanCorrectionPattern {
		return true
	}
	value := types.Stringify(current)
	re, err := regexp.Compile("(?i)" + rule.OriginalPattern)
	if err != nil {
		return strings.Contains(value, rule.OriginalPattern)
	}
	return re.MatchString(value)
}
