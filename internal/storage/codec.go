package storage

import (
	"encoding/json"
	"fmt"

	"github.com/scrypster/invoice-memory/pkg/types"
)

// EncodePayload serialises the variant payload of a memory. Backends store it
// in a single JSON column next to the indexed base columns.
func EncodePayload(m *types.Memory) ([]byte, error) {
	var payload any
	switch m.Type {
	case types.MemoryTypeVendor:
		payload = m.VendorRule
	case types.MemoryTypeCorrection:
		payload = m.CorrectionRule
	case types.MemoryTypeResolution:
		payload = m.ResolutionRule
	default:
		return nil, fmt.Errorf("%w: unknown memory type %q", ErrInvalidInput, m.Type)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", m.Type, err)
	}
	return data, nil
}

// DecodePayload restores the variant payload selected by m.Type.
func DecodePayload(m *types.Memory, data []byte) error {
	switch m.Type {
	case types.MemoryTypeVendor:
		m.VendorRule = &types.VendorRule{}
		return unmarshalPayload(data, m.VendorRule, m.Type)
	case types.MemoryTypeCorrection:
		m.CorrectionRule = &types.CorrectionRule{}
		return unmarshalPayload(data, m.CorrectionRule, m.Type)
	case types.MemoryTypeResolution:
		m.ResolutionRule = &types.ResolutionRule{}
		return unmarshalPayload(data, m.ResolutionRule, m.Type)
	}
	return fmt.Errorf("%w: unknown memory type %q", ErrInvalidInput, m.Type)
}

func unmarshalPayload(data []byte, dst any, t types.MemoryType) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", t, err)
	}
	return nil
}

// ValidateForSave checks a memory before it is written.
func ValidateForSave(m *types.Memory) error {
	if m == nil {
		return ErrInvalidInput
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if m.Vendor == "" {
		return fmt.Errorf("%w: memory vendor is required", ErrInvalidInput)
	}
	return nil
}
