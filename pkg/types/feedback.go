package types

import "time"

// HumanFeedback is a reviewer's verdict on a processed invoice.
type HumanFeedback struct {
	InvoiceID   string               `json:"invoice_id"`
	Corrections []FeedbackCorrection `json:"corrections"`
	Approved    bool                 `json:"approved"`
	Comments    string               `json:"comments,omitempty"`
	Timestamp   time.Time            `json:"timestamp"`
}

// FeedbackCorrection is one field the reviewer changed.
type FeedbackCorrection struct {
	Field          string `json:"field"`
	CorrectedValue any    `json:"corrected_value"`
	Reason         string `json:"reason,omitempty"`
}
