package types

import "time"

// Correction is a single proposed field change with provenance.
type Correction struct {
	Field         string  `json:"field"`
	OriginalValue any     `json:"original_value"`
	ProposedValue any     `json:"proposed_value"`
	Confidence    float64 `json:"confidence"`
	MemorySource  string  `json:"memory_source"` // ID of the originating memory
	Reasoning     string  `json:"reasoning"`
}

// Decision is the outcome chosen by the decide stage.
type Decision string

// Decision outcomes
const (
	DecisionAutoAccept  Decision = "auto_accept"
	DecisionAutoCorrect Decision = "auto_correct"
	DecisionEscalate    Decision = "escalate"
)

// MemoryUpdateKind classifies a MemoryUpdate.
type MemoryUpdateKind string

// Memory update kinds
const (
	UpdateCreate    MemoryUpdateKind = "create"
	UpdateReinforce MemoryUpdateKind = "reinforce"
	UpdateWeaken    MemoryUpdateKind = "weaken"
	UpdateDecay     MemoryUpdateKind = "decay"
)

// MemoryUpdate records a change (or observed change) to a memory during a call.
type MemoryUpdate struct {
	Kind     MemoryUpdateKind `json:"kind"`
	MemoryID string           `json:"memory_id,omitempty"`
	Details  string           `json:"details"`
}

// AuditStep names one pipeline stage.
type AuditStep string

// Audit steps, in emission order.
const (
	StepRecall AuditStep = "recall"
	StepApply  AuditStep = "apply"
	StepDecide AuditStep = "decide"
	StepLearn  AuditStep = "learn"
)

// AuditEntry is one stage of the explainability record.
type AuditEntry struct {
	Step       AuditStep `json:"step"`
	Timestamp  time.Time `json:"timestamp"`
	Details    string    `json:"details"`
	Confidence *float64  `json:"confidence,omitempty"`
	MemoryIDs  []string  `json:"memory_ids,omitempty"`
}

// ProcessingResult is everything ProcessInvoice produces for one invoice.
type ProcessingResult struct {
	NormalizedInvoice   *Invoice       `json:"normalized_invoice"`
	Corrections         []Correction   `json:"corrections"`
	RequiresHumanReview bool           `json:"requires_human_review"`
	Decision            Decision       `json:"decision"`
	Reasoning           string         `json:"reasoning"`
	ConfidenceScore     float64        `json:"confidence_score"`
	MemoryUpdates       []MemoryUpdate `json:"memory_updates"`
	AuditTrail          []AuditEntry   `json:"audit_trail"`
}
