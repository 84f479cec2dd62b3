package handlers

import (
	"github.com/scrypster/invoice-memory/internal/services"
	"github.com/scrypster/invoice-memory/internal/storage"
	"github.com/scrypster/invoice-memory/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// FeedbackResponse is the response format for POST /api/feedback.
type FeedbackResponse struct {
	InvoiceID string               `json:"invoice_id"`
	Updates   []types.MemoryUpdate `json:"updates"`
}

// AdjustRequest is the body of POST /api/memories/{id}/reinforce and /weaken.
// A zero or missing strength uses the engine default.
type AdjustRequest struct {
	Strength float64 `json:"strength"`
}

// MemoryListResponse is the response format for GET /api/memories.
type MemoryListResponse struct {
	Memories []*types.Memory `json:"memories"`
	Count    int             `json:"count"`
}

// BatchRequest is the body of POST /api/invoices/batch.
type BatchRequest struct {
	Invoices []*types.Invoice `json:"invoices"`
	Workers  int              `json:"workers,omitempty"`
}

// BatchResponse is the response format for POST /api/invoices/batch.
type BatchResponse struct {
	Results []services.BatchResult `json:"results"`
	Failed  int                    `json:"failed"`
	Workers int                    `json:"workers"`
}

// InvoiceListResponse is the response format for GET /api/invoices.
type InvoiceListResponse = storage.PaginatedResult[storage.InvoiceRecord]

// HealthResponse is the response format for GET /api/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Breaker string `json:"breaker,omitempty"`
}
