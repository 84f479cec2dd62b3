package types

import (
	"errors"
	"fmt"
	"time"
)

// Memory is a persisted, scored heuristic learned from vendor conventions or
// human corrections. It is a sum type: Type selects which one of VendorRule,
// CorrectionRule or ResolutionRule carries the variant payload.
type Memory struct {
	// Core identification fields
	ID     string     `json:"id"`     // Opaque unique key
	Type   MemoryType `json:"type"`   // Discriminant (vendor, correction, resolution)
	Vendor string     `json:"vendor"` // Vendor the memory applies to

	// Quality signals
	Confidence float64   `json:"confidence"`             // Trust in the memory, [0.1, 0.95] while active
	UsageCount int       `json:"usage_count"`            // Number of times the memory was applied
	CreatedAt  time.Time `json:"created_at"`             // When the memory was created
	LastUsedAt time.Time `json:"last_used_at,omitempty"` // Most recent application (zero = never)
	UpdatedAt  time.Time `json:"updated_at"`             // Last write
	Active     bool      `json:"active"`                 // False once weakened to the floor

	// Variant payloads (exactly one is set, matching Type)
	VendorRule     *VendorRule     `json:"vendor_rule,omitempty"`
	CorrectionRule *CorrectionRule `json:"correction_rule,omitempty"`
	ResolutionRule *ResolutionRule `json:"resolution_rule,omitempty"`
}

// VendorRule is the payload of a vendor memory.
type VendorRule struct {
	TriggerSignal string       `json:"trigger_signal"` // Text cue, or the vendor name itself
	Action        VendorAction `json:"action"`
	Pattern       string       `json:"pattern,omitempty"` // Descriptive label
}

// VendorAction describes the correction a vendor memory derives.
type VendorAction struct {
	Kind        ActionKind `json:"kind"`
	SourceField string     `json:"source_field,omitempty"`
	TargetField string     `json:"target_field"`
	Value       any        `json:"value,omitempty"`
	Strategy    string     `json:"strategy,omitempty"`
}

// CorrectionRule is the payload of a correction memory.
type CorrectionRule struct {
	FieldName        string `json:"field_name"`
	OriginalPattern  string `json:"original_pattern"` // HumanCorrectionPattern or a regex/substring
	CorrectedValue   any    `json:"corrected_value"`
	CorrectionReason string `json:"correction_reason,omitempty"`
	ApprovalCount    int    `json:"approval_count"`
	RejectionCount   int    `json:"rejection_count"`
}

// ResolutionRule is the payload of a resolution memory.
type ResolutionRule struct {
	Scenario      string  `json:"scenario"`
	Outcome       Outcome `json:"outcome"`
	HumanFeedback string  `json:"human_feedback,omitempty"`
	SystemAction  string  `json:"system_action"`
}

// ErrInvalidMemory is returned by Memory.Validate.
var ErrInvalidMemory = errors.New("invalid memory")

// Validate checks that the discriminant and payload agree and that the
// confidence is within bounds.
func (m *Memory) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil memory", ErrInvalidMemory)
	}
	if m.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidMemory)
	}
	if !IsValidMemoryType(m.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMemory, m.Type)
	}
	if m.Confidence < MinConfidence || m.Confidence > MaxConfidence {
		return fmt.Errorf("%w: confidence %.4f outside [%.2f, %.2f]", ErrInvalidMemory, m.Confidence, MinConfidence, MaxConfidence)
	}

	set := 0
	if m.VendorRule != nil {
		set++
	}
	if m.CorrectionRule != nil {
		set++
	}
	if m.ResolutionRule != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: expected exactly one payload, got %d", ErrInvalidMemory, set)
	}

	switch m.Type {
	case MemoryTypeVendor:
		if m.VendorRule == nil {
			return fmt.Errorf("%w: vendor memory without vendor rule", ErrInvalidMemory)
		}
		if !IsValidActionKind(m.VendorRule.Action.Kind) {
			return fmt.Errorf("%w: unknown action kind %q", ErrInvalidMemory, m.VendorRule.Action.Kind)
		}
		if m.VendorRule.Action.TargetField == "" {
			return fmt.Errorf("%w: vendor action needs a target field", ErrInvalidMemory)
		}
	case MemoryTypeCorrection:
		if m.CorrectionRule == nil {
			return fmt.Errorf("%w: correction memory without correction rule", ErrInvalidMemory)
		}
		if m.CorrectionRule.FieldName == "" {
			return fmt.Errorf("%w: correction needs a field name", ErrInvalidMemory)
		}
	case MemoryTypeResolution:
		if m.ResolutionRule == nil {
			return fmt.Errorf("%w: resolution memory without resolution rule", ErrInvalidMemory)
		}
		if !IsValidOutcome(m.ResolutionRule.Outcome) {
			return fmt.Errorf("%w: unknown outcome %q", ErrInvalidMemory, m.ResolutionRule.Outcome)
		}
	}
	return nil
}

// FieldName returns the field the memory targets, if any. For vendor
// memories this is the action's target field.
func (m *Memory) FieldName() string {
	switch {
	case m.VendorRule != nil:
		return m.VendorRule.Action.TargetField
	case m.CorrectionRule != nil:
		return m.CorrectionRule.FieldName
	}
	return ""
}

// Pattern returns the text the memory is keyed on: the trigger signal, the
// original pattern, or the scenario label.
func (m *Memory) Pattern() string {
	switch {
	case m.VendorRule != nil:
		return m.VendorRule.TriggerSignal
	case m.CorrectionRule != nil:
		return m.CorrectionRule.OriginalPattern
	case m.ResolutionRule != nil:
		return m.ResolutionRule.Scenario
	}
	return ""
}

// Clone returns a copy of m that shares no payload pointers with it.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	c := *m
	if m.VendorRule != nil {
		v := *m.VendorRule
		c.VendorRule = &v
	}
	if m.CorrectionRule != nil {
		v := *m.CorrectionRule
		c.CorrectionRule = &v
	}
	if m.ResolutionRule != nil {
		v := *m.ResolutionRule
		c.ResolutionRule = &v
	}
	return &c
}
