// Package storage provides composable storage interfaces for the invoice
// memory system.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. The core pipeline only
// depends on MemoryStore; InvoiceStore backs vendor resolution for feedback.
package storage

import (
	"context"

	"github.com/scrypster/invoice-memory/pkg/types"
)

// MemoryStore provides keyed storage for memories.
type MemoryStore interface {
	// Save creates or updates a memory (upsert by ID).
	Save(ctx context.Context, memory *types.Memory) error

	// Get retrieves a memory by ID, active or not.
	// Returns ErrNotFound if the memory doesn't exist.
	Get(ctx context.Context, id string) (*types.Memory, error)

	// Query returns active memories matching filter, ordered by confidence
	// descending then usage count descending.
	Query(ctx context.Context, filter QueryFilter) ([]*types.Memory, error)

	// UpdateConfidence overwrites the stored confidence of a memory.
	// Returns ErrNotFound if the memory doesn't exist.
	UpdateConfidence(ctx context.Context, id string, confidence float64) error

	// TouchUsage increments the usage count and sets last_used_at to now.
	// Returns ErrNotFound if the memory doesn't exist.
	TouchUsage(ctx context.Context, id string) error

	// Deactivate marks a memory inactive. Inactive memories are never
	// returned by Query.
	// Returns ErrNotFound if the memory doesn't exist.
	Deactivate(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}

// InvoiceStore records processed invoices so feedback can later be traced
// back to the owning vendor.
type InvoiceStore interface {
	// RecordInvoice upserts the processing record for an invoice.
	RecordInvoice(ctx context.Context, record *InvoiceRecord) error

	// GetInvoice retrieves a processing record by invoice ID.
	// Returns ErrNotFound if the invoice was never recorded.
	GetInvoice(ctx context.Context, id string) (*InvoiceRecord, error)

	// ListInvoices returns processing records, newest first.
	ListInvoices(ctx context.Context, opts ListOptions) (*PaginatedResult[InvoiceRecord], error)
}
