package types_test

import (
	"errors"
	"testing"

	"github.com/scrypster/invoice-memory/pkg/types"
)

func vendorMemory() *types.Memory {
	return &types.Memory{
		ID:         "mem-1",
		Type:       types.MemoryTypeVendor,
		Vendor:     "Supplier GmbH",
		Confidence: 0.72,
		Active:     true,
		VendorRule: &types.VendorRule{
			TriggerSignal: "Leistungsdatum",
			Action: types.VendorAction{
				Kind:        types.ActionFieldMapping,
				TargetField: types.FieldServiceDate,
				Strategy:    "extract_from_text",
			},
		},
	}
}

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-1, types.MinConfidence},
		{0.05, types.MinConfidence},
		{0.1, 0.1},
		{0.5, 0.5},
		{0.95, 0.95},
		{1.2, types.MaxConfidence},
	}
	for _, tt := range tests {
		if got := types.ClampConfidence(tt.in); got != tt.want {
			t.Errorf("ClampConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMemoryValidate_Valid(t *testing.T) {
	if err := vendorMemory().Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

// TestMemoryValidate_PayloadMismatch verifies the discriminant must agree with
// the payload that is set.
func TestMemoryValidate_PayloadMismatch(t *testing.T) {
	m := vendorMemory()
	m.Type = types.MemoryTypeCorrection
	if err := m.Validate(); !errors.Is(err, types.ErrInvalidMemory) {
		t.Fatalf("Validate() = %v, want ErrInvalidMemory", err)
	}

	m = vendorMemory()
	m.CorrectionRule = &types.CorrectionRule{FieldName: "currency"}
	if err := m.Validate(); !errors.Is(err, types.ErrInvalidMemory) {
		t.Fatalf("two payloads: Validate() = %v, want ErrInvalidMemory", err)
	}
}

func TestMemoryValidate_ConfidenceOutOfBounds(t *testing.T) {
	m := vendorMemory()
	m.Confidence = 0.99
	if err := m.Validate(); !errors.Is(err, types.ErrInvalidMemory) {
		t.Fatalf("Validate() = %v, want ErrInvalidMemory", err)
	}
}

func TestMemoryFieldNameAndPattern(t *testing.T) {
	m := vendorMemory()
	if m.FieldName() != types.FieldServiceDate {
		t.Errorf("FieldName() = %q", m.FieldName())
	}
	if m.Pattern() != "Leistungsdatum" {
		t.Errorf("Pattern() = %q", m.Pattern())
	}

	r := &types.Memory{ResolutionRule: &types.ResolutionRule{Scenario: "missing_po_standard"}}
	if r.Pattern() != "missing_po_standard" {
		t.Errorf("resolution Pattern() = %q", r.Pattern())
	}
	if r.FieldName() != "" {
		t.Errorf("resolution FieldName() = %q, want empty", r.FieldName())
	}
}

func TestMemoryClone_Independent(t *testing.T) {
	m := vendorMemory()
	c := m.Clone()
	c.VendorRule.TriggerSignal = "changed"
	if m.VendorRule.TriggerSignal != "Leistungsdatum" {
		t.Fatal("Clone shares the vendor rule with the original")
	}
}
