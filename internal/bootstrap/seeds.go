// Package bootstrap loads memory seeds from YAML so a fresh deployment can
// start with known vendor conventions instead of an empty store.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/invoice-memory/internal/engine"
	"github.com/scrypster/invoice-memory/pkg/types"
)

// File is the top-level seed document.
//
//	memories:
//	  - vendor: Supplier GmbH
//	    type: vendor
//	    confidence: 0.72
//	    trigger: Leistungsdatum
//	    action: {kind: field_mapping, target_field: serviceDate, strategy: extract_from_text}
type File struct {
	Memories []Seed `yaml:"memories"`
}

// Seed describes one memory. Which fields apply depends on Type.
type Seed struct {
	Vendor     string           `yaml:"vendor"`
	Type       types.MemoryType `yaml:"type"`
	Confidence float64          `yaml:"confidence"`

	// vendor
	Trigger string      `yaml:"trigger"`
	Action  *SeedAction `yaml:"action"`
	Pattern string      `yaml:"pattern"`

	// correction
	Field           string `yaml:"field"`
	OriginalPattern string `yaml:"original_pattern"`
	CorrectedValue  any    `yaml:"corrected_value"`
	Reason          string `yaml:"reason"`

	// resolution
	Scenario      string        `yaml:"scenario"`
	Outcome       types.Outcome `yaml:"outcome"`
	HumanFeedback string        `yaml:"human_feedback"`
	SystemAction  string        `yaml:"system_action"`
}

// SeedAction mirrors types.VendorAction.
type SeedAction struct {
	Kind        types.ActionKind `yaml:"kind"`
	SourceField string           `yaml:"source_field"`
	TargetField string           `yaml:"target_field"`
	Value       any              `yaml:"value"`
	Strategy    string           `yaml:"strategy"`
}

// Load parses a seed document.
func Load(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return &f, nil
		}
		return nil, fmt.Errorf("bootstrap: failed to parse seeds: %w", err)
	}
	for i, s := range f.Memories {
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("bootstrap: seed %d: %w", i, err)
		}
	}
	return &f, nil
}

// LoadFile parses the seed document at path.
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	defer fh.Close()
	return Load(fh)
}

func (s Seed) validate() error {
	if strings.TrimSpace(s.Vendor) == "" {
		return fmt.Errorf("vendor is required")
	}
	switch s.Type {
	case types.MemoryTypeVendor:
		if s.Trigger == "" || s.Action == nil || s.Action.TargetField == "" {
			return fmt.Errorf("vendor seed needs trigger and action.target_field")
		}
	case types.MemoryTypeCorrection:
		if s.Field == "" || s.CorrectedValue == nil {
			return fmt.Errorf("correction seed needs field and corrected_value")
		}
	case types.MemoryTypeResolution:
		if s.Scenario == "" || !types.IsValidOutcome(s.Outcome) {
			return fmt.Errorf("resolution seed needs scenario and a valid outcome")
		}
	default:
		return fmt.Errorf("unknown memory type %q", s.Type)
	}
	return nil
}

// Apply creates one memory per seed through the manager and returns the new
// memory IDs in seed order. It stops at the first failure.
func Apply(ctx context.Context, m *engine.Manager, f *File) ([]string, error) {
	ids := make([]string, 0, len(f.Memories))
	for i, s := range f.Memories {
		mem, err := create(ctx, m, s)
		if err != nil {
			return ids, fmt.Errorf("bootstrap: seed %d (%s/%s): %w", i, s.Vendor, s.Type, err)
		}
		ids = append(ids, mem.ID)
	}
	return ids, nil
}

func create(ctx context.Context, m *engine.Manager, s Seed) (*types.Memory, error) {
	switch s.Type {
	case types.MemoryTypeVendor:
		return m.CreateVendorMemory(ctx, s.Vendor, types.VendorRule{
			TriggerSignal: s.Trigger,
			Action: types.VendorAction{
				Kind:        s.Action.Kind,
				SourceField: s.Action.SourceField,
				TargetField: s.Action.TargetField,
				Value:       s.Action.Value,
				Strategy:    s.Action.Strategy,
			},
			Pattern: s.Pattern,
		}, s.Confidence)

	case types.MemoryTypeCorrection:
		pattern := s.OriginalPattern
		if pattern == "" {
			pattern = types.HumanCorrectionPattern
		}
		return m.CreateCorrectionMemory(ctx, s.Vendor, s.Field, pattern, s.CorrectedValue, s.Reason, s.Confidence)

	case types.MemoryTypeResolution:
		return m.CreateResolutionMemory(ctx, s.Vendor, types.ResolutionRule{
			Scenario:      s.Scenario,
			Outcome:       s.Outcome,
			HumanFeedback: s.HumanFeedback,
			SystemAction:  s.SystemAction,
		}, s.Confidence)
	}
	return nil, fmt.Errorf("unknown memory type %q", s.Type)
}
