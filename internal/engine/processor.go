package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/scrypster/invoice-memory/pkg/types"
)

// Scenario parts joined into the resolution-memory recall pattern.
const (
	scenarioMissingPO          = "missing_po"
	scenarioMissingServiceDate = "missing_service_date"
	scenarioVATIncluded        = "vat_included"
	scenarioMissingCurrency    = "missing_currency"
	scenarioStandard           = "standard"
)

// OpportunitySuccessfulProcessing is the learning tag of an invoice that
// needed no corrections.
const OpportunitySuccessfulProcessing = "successful_processing"

// Processor runs the recall, apply, decide and learn stages for one invoice
// at a time. It is safe for concurrent use across invoices.
type Processor struct {
	config  Config
	manager *Manager
	logger  *log.Logger
	now     func() time.Time
}

// NewProcessor creates a Processor that recalls and reinforces memories
// through manager.
func NewProcessor(manager *Manager, cfg Config, logger *log.Logger) (*Processor, error) {
	if manager == nil {
		return nil, fmt.Errorf("memory manager is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Processor{
		config:  cfg,
		manager: manager,
		logger:  logger.WithPrefix("processor"),
		now:     time.Now,
	}, nil
}

// Config returns the processor's configuration.
func (p *Processor) Config() Config {
	return p.config
}

// Manager returns the memory manager the processor works through.
func (p *Processor) Manager() *Manager {
	return p.manager
}

// pipelineRun carries the state threaded through the four stages.
type pipelineRun struct {
	invoice     *types.Invoice
	memories    []*types.Memory
	corrections []types.Correction
	confidence  float64
	updates     []types.MemoryUpdate
	audit       []types.AuditEntry
}

func (r *pipelineRun) record(step types.AuditStep, at time.Time, details string, confidence *float64, ids []string) {
	r.audit = append(r.audit, types.AuditEntry{
		Step:       step,
		Timestamp:  at,
		Details:    details,
		Confidence: confidence,
		MemoryIDs:  ids,
	})
}

// ProcessInvoice normalizes inv using recalled memories and decides whether
// the result needs human review. inv is never modified.
//
// Store failures abort the call. A memory that fails while being applied is
// skipped and logged.
func (p *Processor) ProcessInvoice(ctx context.Context, inv *types.Invoice) (*types.ProcessingResult, error) {
	if inv == nil || inv.ID == "" || inv.Vendor == "" {
		return nil, fmt.Errorf("%w: id and vendor are required", ErrInvalidInvoice)
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	run := &pipelineRun{invoice: inv}

	if err := p.recall(ctx, run); err != nil {
		return nil, err
	}
	if err := p.apply(ctx, run); err != nil {
		return nil, err
	}
	outcome := p.decide(run)
	p.learn(run)

	normalized := normalize(inv, run.corrections)
	if normalized.Metadata.ProcessingID == "" {
		normalized.Metadata.ProcessingID = uuid.NewString()
	}

	p.logger.Info("invoice processed",
		"invoice_id", inv.ID,
		"vendor", inv.Vendor,
		"decision", outcome.Decision,
		"confidence", run.confidence,
		"corrections", len(run.corrections))

	corrections := run.corrections
	if corrections == nil {
		corrections = []types.Correction{}
	}
	updates := run.updates
	if updates == nil {
		updates = []types.MemoryUpdate{}
	}

	return &types.ProcessingResult{
		NormalizedInvoice:   normalized,
		Corrections:         corrections,
		RequiresHumanReview: outcome.RequiresHumanReview,
		Decision:            outcome.Decision,
		Reasoning:           outcome.Reasoning,
		ConfidenceScore:     run.confidence,
		MemoryUpdates:       updates,
		AuditTrail:          run.audit,
	}, nil
}

// ProcessHumanFeedback learns from a reviewer's verdict on a processed invoice.
func (p *Processor) ProcessHumanFeedback(ctx context.Context, feedback *types.HumanFeedback) ([]types.MemoryUpdate, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return p.manager.ProcessHumanFeedback(ctx, feedback)
}

func (p *Processor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || p.config.RequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.config.RequestTimeout)
}

// recall gathers vendor memories, correction memories for every field the
// invoice looks deficient in, and resolution memories for its scenario.
func (p *Processor) recall(ctx context.Context, run *pipelineRun) error {
	inv := run.invoice
	seen := make(map[string]bool)
	counts := make(map[types.MemoryType]int)

	collect := func(filter RecallFilter) error {
		recall, err := p.manager.RecallMemories(ctx, inv, filter)
		if err != nil {
			return err
		}
		for _, mem := range recall.Memories {
			if seen[mem.ID] {
				continue
			}
			seen[mem.ID] = true
			counts[mem.Type]++
			run.memories = append(run.memories, mem)
		}
		for _, u := range recall.Decayed {
			if !containsUpdate(run.updates, u) {
				run.updates = append(run.updates, u)
			}
		}
		return nil
	}

	if err := collect(RecallFilter{Type: types.MemoryTypeVendor}); err != nil {
		return err
	}
	for _, field := range flaggedFields(inv) {
		if err := collect(RecallFilter{Type: types.MemoryTypeCorrection, FieldName: field}); err != nil {
			return err
		}
	}
	scenario := scenarioFor(inv)
	if err := collect(RecallFilter{Type: types.MemoryTypeResolution, Pattern: scenario}); err != nil {
		return err
	}

	ids := make([]string, len(run.memories))
	for i, mem := range run.memories {
		ids[i] = mem.ID
	}
	run.record(types.StepRecall, p.now(),
		fmt.Sprintf("Recalled %d memories (%d vendor, %d correction, %d resolution) for scenario %q",
			len(run.memories), counts[types.MemoryTypeVendor], counts[types.MemoryTypeCorrection],
			counts[types.MemoryTypeResolution], scenario),
		nil, ids)
	return nil
}

// flaggedFields lists the fields whose correction memories are worth recalling.
func flaggedFields(inv *types.Invoice) []string {
	data := inv.ExtractedData
	var fields []string

	if !data.Has(types.FieldServiceDate) && data.Has(types.FieldDate) {
		fields = append(fields, types.FieldServiceDate)
	}
	if !data.Has(types.FieldCurrency) {
		fields = append(fields, types.FieldCurrency)
	}
	if !data.Has(types.FieldPONumber) {
		fields = append(fields, types.FieldPONumber)
	}
	if _, defined := data.Bool(types.FieldVATIncluded); !defined {
		fields = append(fields, types.FieldVATIncluded)
	}
	if !data.Has(types.FieldVATAmount) && data.Has(types.FieldAmount) {
		fields = append(fields, types.FieldVATAmount)
	}
	for _, item := range data.LineItems() {
		if item.SKU == "" {
			fields = append(fields, types.FieldSKU)
			break
		}
	}
	return fields
}

// scenarioFor builds the resolution scenario label of an invoice.
func scenarioFor(inv *types.Invoice) string {
	data := inv.ExtractedData
	var parts []string

	if !data.Has(types.FieldPONumber) {
		parts = append(parts, scenarioMissingPO)
	}
	if !data.Has(types.FieldServiceDate) {
		parts = append(parts, scenarioMissingServiceDate)
	}
	if included, _ := data.Bool(types.FieldVATIncluded); included || vatInclusiveRe.MatchString(inv.RawText) {
		parts = append(parts, scenarioVATIncluded)
	}
	if !data.Has(types.FieldCurrency) {
		parts = append(parts, scenarioMissingCurrency)
	}

	if len(parts) == 0 {
		return scenarioStandard
	}
	return strings.Join(parts, "_")
}

// apply derives corrections from every recalled memory above the application
// threshold and computes the overall confidence.
func (p *Processor) apply(ctx context.Context, run *pipelineRun) error {
	confidence := 1.0
	var sources []string

	for _, mem := range run.memories {
		if mem.Confidence < p.config.MemoryApplicationThreshold {
			continue
		}

		corr := p.safeApply(run.invoice, mem)
		if corr == nil {
			continue
		}

		run.corrections = append(run.corrections, *corr)
		confidence *= mem.Confidence
		sources = append(sources, mem.ID)

		reinforced, err := p.manager.ReinforceMemory(ctx, mem.ID, p.config.ApplyReinforcement)
		if err != nil {
			return err
		}
		if reinforced != nil {
			run.updates = append(run.updates, types.MemoryUpdate{
				Kind:     types.UpdateReinforce,
				MemoryID: mem.ID,
				Details:  fmt.Sprintf("applied to %s, confidence now %.3f", corr.Field, reinforced.Confidence),
			})
		}
	}

	details := fmt.Sprintf("Applied memories produced %d corrections", len(run.corrections))
	switch {
	case len(run.corrections) == 0:
		confidence = p.config.BaselineConfidence
		details = "No memory produced a correction; using baseline confidence"
	case hasConflict(run.corrections):
		confidence *= p.config.ConflictPenalty
		details += fmt.Sprintf("; conflicting proposals penalized by %.2f", p.config.ConflictPenalty)
	}

	run.confidence = confidence
	run.record(types.StepApply, p.now(), details, floatPtr(confidence), sources)
	return nil
}

// safeApply derives a correction from one memory, converting a panic into
// "no correction" so a single bad memory cannot abort the invoice.
func (p *Processor) safeApply(inv *types.Invoice, mem *types.Memory) (corr *types.Correction) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("memory application failed", "memory_id", mem.ID, "invoice_id", inv.ID, "panic", r)
			corr = nil
		}
	}()
	return applyMemory(inv, mem)
}

// applyMemory dispatches on the memory kind. Resolution memories never
// produce corrections.
func applyMemory(inv *types.Invoice, mem *types.Memory) *types.Correction {
	switch mem.Type {
	case types.MemoryTypeVendor:
		rule := mem.VendorRule
		if rule == nil || !vendorTriggerMatches(inv, rule) {
			return nil
		}
		candidate, how := deriveVendorValue(inv, rule)
		return proposal(inv, mem, rule.Action.TargetField, candidate,
			fmt.Sprintf("Vendor memory %q (trigger %q): %s", rule.Pattern, rule.TriggerSignal, how))

	case types.MemoryTypeCorrection:
		rule := mem.CorrectionRule
		if rule == nil {
			return nil
		}
		current, _ := inv.ExtractedData.Get(rule.FieldName)
		if !correctionMatches(rule, current) {
			return nil
		}
		reasoning := fmt.Sprintf("Learned correction for %s", rule.FieldName)
		if rule.CorrectionReason != "" {
			reasoning += ": " + rule.CorrectionReason
		}
		return proposal(inv, mem, rule.FieldName, rule.CorrectedValue, reasoning)
	}
	return nil
}

// proposal builds a correction unless the candidate is missing or equal to
// the field's current value.
func proposal(inv *types.Invoice, mem *types.Memory, field string, candidate any, reasoning string) *types.Correction {
	if candidate == nil || field == "" {
		return nil
	}
	current, _ := inv.ExtractedData.Get(field)
	if types.SameValue(candidate, current) {
		return nil
	}
	return &types.Correction{
		Field:         field,
		OriginalValue: current,
		ProposedValue: candidate,
		Confidence:    mem.Confidence,
		MemorySource:  mem.ID,
		Reasoning:     reasoning,
	}
}

// hasConflict reports whether any field received two distinct proposals.
func hasConflict(corrections []types.Correction) bool {
	byField := make(map[string][]any)
	for _, c := range corrections {
		for _, v := range byField[c.Field] {
			if !types.SameValue(v, c.ProposedValue) {
				return true
			}
		}
		byField[c.Field] = append(byField[c.Field], c.ProposedValue)
	}
	return false
}

func (p *Processor) decide(run *pipelineRun) DecisionOutcome {
	outcome := p.config.Decide(run.confidence, run.corrections)
	run.record(types.StepDecide, p.now(),
		fmt.Sprintf("%s: %s", outcome.Decision, outcome.Reasoning),
		floatPtr(run.confidence), nil)
	return outcome
}

// learn tags learning opportunities for telemetry. Memories change only when
// feedback arrives.
func (p *Processor) learn(run *pipelineRun) {
	opportunities := learningOpportunities(run.corrections)
	run.record(types.StepLearn, p.now(),
		fmt.Sprintf("Identified %d learning opportunities: %s", len(opportunities), strings.Join(opportunities, ", ")),
		nil, nil)
}

func learningOpportunities(corrections []types.Correction) []string {
	if len(corrections) == 0 {
		return []string{OpportunitySuccessfulProcessing}
	}
	seen := make(map[string]bool)
	var tags []string
	for _, c := range corrections {
		tag := "correction:" + c.Field
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

// normalize returns a deep copy of inv with corrected fields overwritten.
// When several corrections target one field the first one wins.
func normalize(inv *types.Invoice, corrections []types.Correction) *types.Invoice {
	out := inv.Clone()
	if out.ExtractedData == nil {
		out.ExtractedData = types.Fields{}
	}
	written := make(map[string]bool)
	for _, c := range corrections {
		if written[c.Field] {
			continue
		}
		written[c.Field] = true
		out.ExtractedData[c.Field] = c.ProposedValue
	}
	return out
}

func containsUpdate(updates []types.MemoryUpdate, u types.MemoryUpdate) bool {
	for _, existing := range updates {
		if existing.Kind == u.Kind && existing.MemoryID == u.MemoryID {
			return true
		}
	}
	return false
}

func floatPtr(f float64) *float64 {
	return &f
}
