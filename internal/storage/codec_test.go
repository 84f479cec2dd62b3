package storage

import (
	"errors"
	"testing"

	"github.com/scrypster/invoice-memory/pkg/types"
)

func TestPayloadRoundTrip(t *testing.T) {
	m := &types.Memory{
		ID:         "mem-1",
		Type:       types.MemoryTypeCorrection,
		Vendor:     "Parts AG",
		Confidence: 0.7,
		CorrectionRule: &types.CorrectionRule{
			FieldName:       "currency",
			OriginalPattern: types.HumanCorrectionPattern,
			CorrectedValue:  "EUR",
			ApprovalCount:   2,
		},
	}

	data, err := EncodePayload(m)
	if err != nil {
		t.Fatalf("EncodePayload() error: %v", err)
	}

	got := &types.Memory{Type: types.MemoryTypeCorrection}
	if err := DecodePayload(got, data); err != nil {
		t.Fatalf("DecodePayload() error: %v", err)
	}
	if got.CorrectionRule == nil || got.CorrectionRule.CorrectedValue != "EUR" || got.CorrectionRule.ApprovalCount != 2 {
		t.Errorf("decoded payload = %+v", got.CorrectionRule)
	}
}

func TestEncodePayload_UnknownType(t *testing.T) {
	_, err := EncodePayload(&types.Memory{Type: "bogus"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("EncodePayload() = %v, want ErrInvalidInput", err)
	}
}

func TestValidateForSave_RequiresVendor(t *testing.T) {
	m := &types.Memory{
		ID:             "mem-1",
		Type:           types.MemoryTypeResolution,
		Confidence:     0.6,
		ResolutionRule: &types.ResolutionRule{Scenario: "standard", Outcome: types.OutcomeApproved},
	}
	if err := ValidateForSave(m); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ValidateForSave() = %v, want ErrInvalidInput", err)
	}
}

func TestQueryFilterNormalize(t *testing.T) {
	f := QueryFilter{Limit: 0, MinConfidence: -1}
	f.Normalize()
	if f.Limit != DefaultQueryLimit || f.MinConfidence != 0 {
		t.Errorf("Normalize() = %+v", f)
	}

	f = QueryFilter{Limit: 5000}
	f.Normalize()
	if f.Limit != MaxQueryLimit {
		t.Errorf("Limit = %d, want %d", f.Limit, MaxQueryLimit)
	}
}
