package engine

import (
	"math"
	"time"

	"github.com/scrypster/invoice-memory/pkg/types"
)

// DecayManager computes passive confidence decay for memories that have not
// been used recently.
//
// For a memory last used d whole days ago:
//
//	d <= grace: confidence unchanged
//	d >  grace: confidence * rate^(d - grace), floored at MinConfidence
//
// The stored confidence is the value as of the last use. Recall derives the
// decayed value from it without writing it back, so repeated recalls do not
// compound. Reinforce and weaken step from the decayed value.
type DecayManager struct {
	graceDays int
	rate      float64
}

// NewDecayManager returns a DecayManager. Non-positive rates fall back to 0.95
// and negative grace periods to 7 days.
func NewDecayManager(graceDays int, rate float64) *DecayManager {
	if graceDays < 0 {
		graceDays = 7
	}
	if rate <= 0 || rate > 1 {
		rate = 0.95
	}
	return &DecayManager{graceDays: graceDays, rate: rate}
}

// refTime returns the reference timestamp used for decay calculation.
// It prefers LastUsedAt and falls back to CreatedAt.
func refTime(mem *types.Memory) time.Time {
	if !mem.LastUsedAt.IsZero() {
		return mem.LastUsedAt
	}
	return mem.CreatedAt
}

// DaysSinceUse returns the whole days elapsed between the memory's last use
// and now. Clock skew never yields a negative count.
func (d *DecayManager) DaysSinceUse(mem *types.Memory, now time.Time) int {
	days := int(math.Floor(now.Sub(refTime(mem)).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

// Decayed returns the decayed value of confidence after days without use.
func (d *DecayManager) Decayed(confidence float64, days int) float64 {
	if days <= d.graceDays {
		return confidence
	}
	decayed := confidence * math.Pow(d.rate, float64(days-d.graceDays))
	return math.Max(decayed, types.MinConfidence)
}

// Factor returns the multiplier decay applies to mem's stored confidence at
// now, before the MinConfidence floor.
func (d *DecayManager) Factor(mem *types.Memory, now time.Time) float64 {
	days := d.DaysSinceUse(mem, now)
	if days <= d.graceDays {
		return 1
	}
	return math.Pow(d.rate, float64(days-d.graceDays))
}

// ApplyDecay replaces mem.Confidence with its decayed value and reports
// whether it changed. mem should be a recalled copy, not a value that will be
// saved back.
func (d *DecayManager) ApplyDecay(mem *types.Memory, now time.Time) bool {
	before := mem.Confidence
	mem.Confidence = d.Decayed(before, d.DaysSinceUse(mem, now))
	return mem.Confidence != before
}
