// Package engine implements the memory-driven invoice pipeline: the Manager
// owns memory lifecycle (creation, recall with decay, reinforcement,
// weakening and feedback translation) and the Processor runs the
// recall/apply/decide/learn stages for each invoice.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/invoice-memory/internal/config"
	"github.com/scrypster/invoice-memory/pkg/types"
)

var (
	// ErrInvalidInvoice is returned when an invoice lacks an id or vendor.
	ErrInvalidInvoice = errors.New("invalid invoice")

	// ErrInvalidFeedback is returned for feedback without an invoice id or
	// with a correction that names no field.
	ErrInvalidFeedback = errors.New("invalid feedback")

	// ErrVendorNotResolved is returned when feedback references an invoice
	// whose vendor cannot be determined.
	ErrVendorNotResolved = errors.New("vendor not resolved")
)

// Config holds the tunables for the Manager and the Processor.
type Config struct {
	// Decision thresholds on the overall confidence.
	AutoAcceptThreshold  float64 // default 0.85
	AutoCorrectThreshold float64 // default 0.65
	EscalateThreshold    float64 // default 0.4

	// MemoryApplicationThreshold is the minimum (decayed) confidence a
	// recalled memory needs to be applied (default 0.5).
	MemoryApplicationThreshold float64

	// ReliableCorrectionConfidence is the per-correction confidence every
	// correction needs for auto-correct (default 0.7).
	ReliableCorrectionConfidence float64

	// LowConfidenceCorrection flags a correction as a risk factor when its
	// confidence is below it (default 0.6).
	LowConfidenceCorrection float64

	// MaxCorrections is the correction count above which the set itself is
	// a risk factor (default 3).
	MaxCorrections int

	// ConflictPenalty multiplies the overall confidence once when any field
	// receives two or more distinct proposals (default 0.7).
	ConflictPenalty float64

	// BaselineConfidence is the overall confidence when no memory produced a
	// correction (default 0.9).
	BaselineConfidence float64

	// ApplyReinforcement is the strength used to reinforce a memory each
	// time it produces a correction (default 0.02).
	ApplyReinforcement float64

	// Passive decay: after DecayGraceDays without use, confidence is
	// multiplied by DecayRate per extra day.
	DecayGraceDays int     // default 7
	DecayRate      float64 // default 0.95

	// Recall defaults.
	RecallMinConfidence float64 // default 0.3
	RecallLimit         int     // default 50

	// Initial confidences for new memories.
	DefaultVendorConfidence     float64 // default 0.5
	DefaultCorrectionConfidence float64 // default 0.4
	DefaultResolutionConfidence float64 // default 0.6

	// Reinforce/weaken step limits and defaults.
	MaxReinforceStep         float64 // default 0.1
	MaxWeakenStep            float64 // default 0.3
	DefaultReinforceStrength float64 // default 0.1
	DefaultWeakenStrength    float64 // default 0.2

	// RequestTimeout bounds a single ProcessInvoice or feedback call when
	// the caller has not set a deadline (default 30s, 0 disables).
	RequestTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		AutoAcceptThreshold:          0.85,
		AutoCorrectThreshold:         0.65,
		EscalateThreshold:            0.4,
		MemoryApplicationThreshold:   0.5,
		ReliableCorrectionConfidence: 0.7,
		LowConfidenceCorrection:      0.6,
		MaxCorrections:               3,
		ConflictPenalty:              0.7,
		BaselineConfidence:           0.9,
		ApplyReinforcement:           0.02,
		DecayGraceDays:               7,
		DecayRate:                    0.95,
		RecallMinConfidence:          0.3,
		RecallLimit:                  50,
		DefaultVendorConfidence:      0.5,
		DefaultCorrectionConfidence:  0.4,
		DefaultResolutionConfidence:  0.6,
		MaxReinforceStep:             0.1,
		MaxWeakenStep:                0.3,
		DefaultReinforceStrength:     0.1,
		DefaultWeakenStrength:        0.2,
		RequestTimeout:               30 * time.Second,
	}
}

// ConfigFromGlobal overlays the engine section of the application config on
// DefaultConfig. Zero values in the global config keep the default.
func ConfigFromGlobal(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}

	e := cfg.Engine
	setFloat(&c.AutoAcceptThreshold, e.AutoAcceptThreshold)
	setFloat(&c.AutoCorrectThreshold, e.AutoCorrectThreshold)
	setFloat(&c.EscalateThreshold, e.EscalateThreshold)
	setFloat(&c.MemoryApplicationThreshold, e.MemoryApplicationThreshold)
	setFloat(&c.DecayRate, e.DecayRate)
	setFloat(&c.RecallMinConfidence, e.RecallMinConfidence)
	if e.DecayGraceDays > 0 {
		c.DecayGraceDays = e.DecayGraceDays
	}
	if e.RecallLimit > 0 {
		c.RecallLimit = e.RecallLimit
	}
	if e.RequestTimeout > 0 {
		c.RequestTimeout = e.RequestTimeout
	}
	return c
}

func setFloat(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if !(c.EscalateThreshold < c.AutoCorrectThreshold && c.AutoCorrectThreshold <= c.AutoAcceptThreshold) {
		return fmt.Errorf("thresholds must satisfy escalate < auto-correct <= auto-accept, got %.2f/%.2f/%.2f",
			c.EscalateThreshold, c.AutoCorrectThreshold, c.AutoAcceptThreshold)
	}

	if c.AutoAcceptThreshold > 1 || c.EscalateThreshold < 0 {
		return fmt.Errorf("thresholds must lie in [0, 1]")
	}

	if c.ConflictPenalty <= 0 || c.ConflictPenalty > 1 {
		return fmt.Errorf("ConflictPenalty must be in (0, 1], got %.2f", c.ConflictPenalty)
	}

	if c.DecayRate <= 0 || c.DecayRate > 1 {
		return fmt.Errorf("DecayRate must be in (0, 1], got %.2f", c.DecayRate)
	}

	if c.DecayGraceDays < 0 {
		return fmt.Errorf("DecayGraceDays must be >= 0, got %d", c.DecayGraceDays)
	}

	if c.RecallLimit < 1 {
		return fmt.Errorf("RecallLimit must be >= 1, got %d", c.RecallLimit)
	}

	if c.MaxCorrections < 0 {
		return fmt.Errorf("MaxCorrections must be >= 0, got %d", c.MaxCorrections)
	}

	if c.MaxReinforceStep <= 0 || c.MaxWeakenStep <= 0 {
		return fmt.Errorf("reinforce and weaken steps must be positive")
	}

	if c.RequestTimeout < 0 {
		return fmt.Errorf("RequestTimeout must be >= 0, got %v", c.RequestTimeout)
	}

	return nil
}

// GenerateMemoryID returns a unique memory ID in the format mem:type:uuid.
func GenerateMemoryID(memType types.MemoryType) string {
	if memType == "" {
		memType = "memory"
	}
	return fmt.Sprintf("mem:%s:%s", memType, uuid.NewString())
}
