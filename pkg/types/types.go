// Package types defines the core data structures for the invoice memory system.
// These types represent invoices, the scored memories learned from vendor
// conventions and human corrections, and the explainable processing results
// produced for every invoice.
package types

// MemoryType is the discriminant of the Memory sum type.
type MemoryType string

// Memory type constants
const (
	// MemoryTypeVendor is a vendor convention (trigger signal plus action).
	MemoryTypeVendor MemoryType = "vendor"

	// MemoryTypeCorrection is a field-level correction learned from a human.
	MemoryTypeCorrection MemoryType = "correction"

	// MemoryTypeResolution records how a scenario was resolved.
	MemoryTypeResolution MemoryType = "resolution"
)

// ActionKind describes what a vendor memory does once its trigger matches.
type ActionKind string

// Vendor action kinds
const (
	ActionFieldMapping ActionKind = "field_mapping"
	ActionInference    ActionKind = "inference"
	ActionComputation  ActionKind = "computation"
)

// Outcome is the recorded result of a resolution memory.
type Outcome string

// Resolution outcomes
const (
	OutcomeApproved  Outcome = "approved"
	OutcomeRejected  Outcome = "rejected"
	OutcomeEscalated Outcome = "escalated"
)

// Confidence bounds. Every write clamps a memory's confidence into
// [MinConfidence, MaxConfidence].
const (
	MinConfidence = 0.1
	MaxConfidence = 0.95
)

// HumanCorrectionPattern is the originalPattern sentinel that matches any
// current field value.
const HumanCorrectionPattern = "human_correction"

// Known extracted-data field names.
const (
	FieldInvoiceNumber = "invoiceNumber"
	FieldDate          = "date"
	FieldServiceDate   = "serviceDate"
	FieldAmount        = "amount"
	FieldCurrency      = "currency"
	FieldVATAmount     = "vatAmount"
	FieldVATIncluded   = "vatIncluded"
	FieldPONumber      = "poNumber"
	FieldLineItems     = "lineItems"
	FieldSKU           = "sku"
	FieldTotalPrice    = "totalPrice"
	FieldVATRate       = "vatRate"
	FieldNetAmount     = "netAmount"
)

// ClampConfidence bounds c to [MinConfidence, MaxConfidence].
func ClampConfidence(c float64) float64 {
	if c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// IsValidMemoryType reports whether t is one of the three memory kinds.
func IsValidMemoryType(t MemoryType) bool {
	switch t {
	case MemoryTypeVendor, MemoryTypeCorrection, MemoryTypeResolution:
		return true
	}
	return false
}

// IsValidActionKind reports whether k is a known vendor action kind.
func IsValidActionKind(k ActionKind) bool {
	switch k {
	case ActionFieldMapping, ActionInference, ActionComputation:
		return true
	}
	return false
}

// IsValidOutcome reports whether o is a known resolution outcome.
func IsValidOutcome(o Outcome) bool {
	switch o {
	case OutcomeApproved, OutcomeRejected, OutcomeEscalated:
		return true
	}
	return false
}
