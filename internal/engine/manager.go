package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/log"

	"github.com/scrypster/invoice-memory/internal/storage"
	"github.com/scrypster/invoice-memory/pkg/types"
)

// floorEpsilon absorbs float error when deciding a weakened memory reached
// MinConfidence.
const floorEpsilon = 1e-9

// Manager owns the memory lifecycle: creation, recall with passive decay,
// reinforcement, weakening and translation of human feedback into memories.
//
// Mutations of a single memory are serialized per memory ID, so concurrent
// invoices for the same vendor cannot lose each other's confidence updates.
type Manager struct {
	config   Config
	store    storage.MemoryStore
	resolver VendorResolver
	decay    *DecayManager
	locks    keyedMutex
	logger   *log.Logger

	now   func() time.Time
	newID func(types.MemoryType) string
}

// NewManager creates a Manager over store. resolver maps feedback invoice IDs
// to vendors and may be nil when feedback is never processed.
func NewManager(store storage.MemoryStore, resolver VendorResolver, cfg Config, logger *log.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Manager{
		config:   cfg,
		store:    store,
		resolver: resolver,
		decay:    NewDecayManager(cfg.DecayGraceDays, cfg.DecayRate),
		logger:   logger.WithPrefix("memory"),
		now:      time.Now,
		newID:    GenerateMemoryID,
	}, nil
}

// RecallFilter narrows a recall beyond the invoice's vendor.
type RecallFilter struct {
	// Vendor overrides the invoice's vendor when set.
	Vendor string

	Type      types.MemoryType
	FieldName string
	Pattern   string

	// MinConfidence defaults to Config.RecallMinConfidence. It is applied
	// both to the stored and to the decayed confidence.
	MinConfidence float64

	// Limit defaults to Config.RecallLimit.
	Limit int
}

// Recall is the outcome of RecallMemories.
type Recall struct {
	// Memories are copies carrying decayed confidence, in store order.
	Memories []*types.Memory

	// Decayed lists one update for every memory whose confidence decay lowered.
	Decayed []types.MemoryUpdate
}

// RecallMemories fetches active memories for the invoice's vendor, applies
// passive decay and keeps those still at or above the minimum confidence.
func (m *Manager) RecallMemories(ctx context.Context, inv *types.Invoice, filter RecallFilter) (*Recall, error) {
	q := storage.QueryFilter{
		Vendor:        filter.Vendor,
		Type:          filter.Type,
		FieldName:     filter.FieldName,
		Pattern:       filter.Pattern,
		MinConfidence: filter.MinConfidence,
		Limit:         filter.Limit,
	}
	if q.Vendor == "" && inv != nil {
		q.Vendor = inv.Vendor
	}
	if q.MinConfidence <= 0 {
		q.MinConfidence = m.config.RecallMinConfidence
	}
	if q.Limit <= 0 {
		q.Limit = m.config.RecallLimit
	}

	memories, err := m.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("recall memories: %w", err)
	}

	now := m.now()
	recall := &Recall{Memories: make([]*types.Memory, 0, len(memories))}
	for _, mem := range memories {
		before := mem.Confidence
		if m.decay.ApplyDecay(mem, now) {
			recall.Decayed = append(recall.Decayed, types.MemoryUpdate{
				Kind:     types.UpdateDecay,
				MemoryID: mem.ID,
				Details: fmt.Sprintf("unused for %d days, confidence %.3f -> %.3f",
					m.decay.DaysSinceUse(mem, now), before, mem.Confidence),
			})
		}
		if mem.Confidence < q.MinConfidence {
			m.logger.Debug("memory decayed below recall threshold", "memory_id", mem.ID, "confidence", mem.Confidence)
			continue
		}
		recall.Memories = append(recall.Memories, mem)
	}
	return recall, nil
}

// CreateVendorMemory persists a new vendor memory. A non-positive confidence
// selects Config.DefaultVendorConfidence.
func (m *Manager) CreateVendorMemory(ctx context.Context, vendor string, rule types.VendorRule, confidence float64) (*types.Memory, error) {
	mem := m.vendorMemory(vendor, rule, confidence)
	return mem, m.persistNew(ctx, mem)
}

// CreateCorrectionMemory persists a new correction memory. A non-positive
// confidence selects Config.DefaultCorrectionConfidence.
func (m *Manager) CreateCorrectionMemory(ctx context.Context, vendor, fieldName, originalPattern string, correctedValue any, reason string, confidence float64) (*types.Memory, error) {
	mem := m.correctionMemory(vendor, fieldName, originalPattern, correctedValue, reason, confidence)
	return mem, m.persistNew(ctx, mem)
}

// CreateResolutionMemory persists a new resolution memory. A non-positive
// confidence selects Config.DefaultResolutionConfidence.
func (m *Manager) CreateResolutionMemory(ctx context.Context, vendor string, rule types.ResolutionRule, confidence float64) (*types.Memory, error) {
	mem := m.newMemory(types.MemoryTypeResolution, vendor, confidence, m.config.DefaultResolutionConfidence)
	mem.ResolutionRule = &rule
	return mem, m.persistNew(ctx, mem)
}

func (m *Manager) vendorMemory(vendor string, rule types.VendorRule, confidence float64) *types.Memory {
	mem := m.newMemory(types.MemoryTypeVendor, vendor, confidence, m.config.DefaultVendorConfidence)
	mem.VendorRule = &rule
	return mem
}

func (m *Manager) correctionMemory(vendor, fieldName, originalPattern string, correctedValue any, reason string, confidence float64) *types.Memory {
	mem := m.newMemory(types.MemoryTypeCorrection, vendor, confidence, m.config.DefaultCorrectionConfidence)
	mem.CorrectionRule = &types.CorrectionRule{
		FieldName:        fieldName,
		OriginalPattern:  originalPattern,
		CorrectedValue:   correctedValue,
		CorrectionReason: reason,
	}
	return mem
}

func (m *Manager) newMemory(memType types.MemoryType, vendor string, confidence, fallback float64) *types.Memory {
	if confidence <= 0 {
		confidence = fallback
	}
	now := m.now().UTC()
	return &types.Memory{
		ID:         m.newID(memType),
		Type:       memType,
		Vendor:     vendor,
		Confidence: types.ClampConfidence(confidence),
		CreatedAt:  now,
		UpdatedAt:  now,
		Active:     true,
	}
}

func (m *Manager) persistNew(ctx context.Context, mem *types.Memory) error {
	if err := mem.Validate(); err != nil {
		return err
	}
	if err := m.store.Save(ctx, mem); err != nil {
		return fmt.Errorf("create %s memory: %w", mem.Type, err)
	}
	m.logger.Debug("memory created", "memory_id", mem.ID, "type", mem.Type, "vendor", mem.Vendor, "confidence", mem.Confidence)
	return nil
}

// ReinforceMemory raises a memory's decayed confidence by
// min(strength, MaxReinforceStep), capped at MaxConfidence, and records a use.
// The use restarts the decay clock, so the stepped value is stored as is.
// Correction memories also count an approval. A non-positive strength selects
// DefaultReinforceStrength.
//
// Unknown or inactive IDs are ignored: the returned memory is nil and the
// error is nil.
func (m *Manager) ReinforceMemory(ctx context.Context, id string, strength float64) (*types.Memory, error) {
	if strength <= 0 {
		strength = m.config.DefaultReinforceStrength
	}
	step := math.Min(strength, m.config.MaxReinforceStep)

	unlock := m.locks.Lock(id)
	defer unlock()

	mem, err := m.lookup(ctx, id)
	if mem == nil || err != nil {
		return nil, err
	}

	now := m.now().UTC()
	effective := m.decay.Decayed(mem.Confidence, m.decay.DaysSinceUse(mem, now))
	mem.Confidence = math.Min(effective+step, types.MaxConfidence)

	if mem.CorrectionRule != nil {
		mem.CorrectionRule.ApprovalCount++
		mem.UsageCount++
		mem.LastUsedAt = now
		mem.UpdatedAt = now
		if err := m.store.Save(ctx, mem); err != nil {
			return nil, fmt.Errorf("reinforce memory %s: %w", id, err)
		}
		return mem, nil
	}

	if err := m.store.UpdateConfidence(ctx, id, mem.Confidence); err != nil {
		return nil, fmt.Errorf("reinforce memory %s: %w", id, err)
	}
	if err := m.store.TouchUsage(ctx, id); err != nil {
		return nil, fmt.Errorf("reinforce memory %s: %w", id, err)
	}
	mem.UsageCount++
	mem.LastUsedAt = now
	return mem, nil
}

// WeakenMemory lowers a memory's decayed confidence by
// min(strength, MaxWeakenStep), floored at MinConfidence. Weakening is not a
// use, so the decay clock keeps running and the stored value is the one that
// decays to the weakened confidence. The returned memory carries the weakened
// confidence. Correction memories also count a rejection. Reaching the floor
// deactivates the memory permanently. A non-positive strength selects
// DefaultWeakenStrength.
//
// Unknown or inactive IDs are ignored.
func (m *Manager) WeakenMemory(ctx context.Context, id string, strength float64) (*types.Memory, error) {
	if strength <= 0 {
		strength = m.config.DefaultWeakenStrength
	}
	step := math.Min(strength, m.config.MaxWeakenStep)

	unlock := m.locks.Lock(id)
	defer unlock()

	mem, err := m.lookup(ctx, id)
	if mem == nil || err != nil {
		return nil, err
	}

	now := m.now().UTC()
	factor := m.decay.Factor(mem, now)
	effective := math.Max(mem.Confidence*factor, types.MinConfidence)
	weakened := math.Max(effective-step, types.MinConfidence)
	atFloor := weakened <= types.MinConfidence+floorEpsilon

	stored := types.MinConfidence
	if atFloor {
		weakened = types.MinConfidence
	} else {
		stored = types.ClampConfidence(weakened / factor)
	}

	if mem.CorrectionRule != nil {
		mem.CorrectionRule.RejectionCount++
		mem.Confidence = stored
		mem.Active = !atFloor
		mem.UpdatedAt = now
		if err := m.store.Save(ctx, mem); err != nil {
			return nil, fmt.Errorf("weaken memory %s: %w", id, err)
		}
	} else {
		if err := m.store.UpdateConfidence(ctx, id, stored); err != nil {
			return nil, fmt.Errorf("weaken memory %s: %w", id, err)
		}
		if atFloor {
			if err := m.store.Deactivate(ctx, id); err != nil {
				return nil, fmt.Errorf("deactivate memory %s: %w", id, err)
			}
			mem.Active = false
		}
	}

	mem.Confidence = weakened
	if atFloor {
		m.logger.Info("memory deactivated", "memory_id", id, "vendor", mem.Vendor)
	}
	return mem, nil
}

// lookup is a keyed point read that maps missing and inactive memories to nil.
func (m *Manager) lookup(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, nil
	}
	mem, err := m.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		m.logger.Debug("ignoring unknown memory", "memory_id", id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	if !mem.Active {
		m.logger.Debug("ignoring inactive memory", "memory_id", id)
		return nil, nil
	}
	return mem, nil
}

// ProcessHumanFeedback turns a reviewer's corrections into new memories and
// returns one create update per memory. Every memory is built and validated
// before the first save; if a save fails, the memories already saved by this
// call are deactivated and no updates are returned.
//
// Approved feedback does not reinforce the memories that produced the
// original suggestion.
func (m *Manager) ProcessHumanFeedback(ctx context.Context, feedback *types.HumanFeedback) ([]types.MemoryUpdate, error) {
	if err := validateFeedback(feedback); err != nil {
		return nil, err
	}
	if m.resolver == nil {
		return nil, fmt.Errorf("%w: no vendor resolver configured", ErrVendorNotResolved)
	}

	vendor, err := m.resolver.ResolveVendor(ctx, feedback.InvoiceID)
	if err != nil {
		return nil, err
	}

	if feedback.Approved {
		m.logger.Debug("approved feedback, no reinforcement applied", "invoice_id", feedback.InvoiceID)
	}

	mems := make([]*types.Memory, len(feedback.Corrections))
	for i, c := range feedback.Corrections {
		mem := m.memoryFromCorrection(vendor, c)
		if err := mem.Validate(); err != nil {
			return nil, fmt.Errorf("%w: correction for %s: %v", ErrInvalidFeedback, c.Field, err)
		}
		mems[i] = mem
	}

	updates := make([]types.MemoryUpdate, 0, len(mems))
	for i, mem := range mems {
		if err := m.persistNew(ctx, mem); err != nil {
			m.rollbackCreated(ctx, mems[:i])
			return nil, err
		}
		c := feedback.Corrections[i]
		updates = append(updates, types.MemoryUpdate{
			Kind:     types.UpdateCreate,
			MemoryID: mem.ID,
			Details:  fmt.Sprintf("learned %s memory for %s from feedback on %s", mem.Type, c.Field, feedback.InvoiceID),
		})
	}

	m.logger.Info("feedback processed", "invoice_id", feedback.InvoiceID, "vendor", vendor, "memories_created", len(updates))
	return updates, nil
}

// rollbackCreated deactivates memories saved earlier in a failed feedback
// pass. The store has no transactions, so a failing Deactivate is logged and
// leaves that memory active.
func (m *Manager) rollbackCreated(ctx context.Context, created []*types.Memory) {
	for _, mem := range created {
		if err := m.store.Deactivate(context.WithoutCancel(ctx), mem.ID); err != nil {
			m.logger.Error("failed to roll back feedback memory", "memory_id", mem.ID, "err", err)
		}
	}
}

func validateFeedback(feedback *types.HumanFeedback) error {
	if feedback == nil {
		return fmt.Errorf("%w: feedback is nil", ErrInvalidFeedback)
	}
	if feedback.InvoiceID == "" {
		return fmt.Errorf("%w: invoice id is required", ErrInvalidFeedback)
	}
	for i, c := range feedback.Corrections {
		if c.Field == "" {
			return fmt.Errorf("%w: correction %d has no field", ErrInvalidFeedback, i)
		}
	}
	return nil
}
