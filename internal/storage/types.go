package storage

import (
	"errors"
	"time"

	"github.com/scrypster/invoice-memory/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// Query defaults and caps.
const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 1000
)

// QueryFilter selects memories for recall. Zero values mean "no filter".
type QueryFilter struct {
	// Vendor restricts results to one vendor.
	Vendor string

	// Type restricts results to one memory kind.
	Type types.MemoryType

	// FieldName matches the correction field or the vendor action's target field.
	FieldName string

	// Pattern keeps memories whose pattern (trigger signal, original pattern
	// or scenario label) contains this string.
	Pattern string

	// MinConfidence keeps memories with stored confidence >= this value.
	MinConfidence float64

	// Limit caps the number of results (default: 50, max: 1000).
	Limit int
}

// Normalize applies defaults and caps.
func (f *QueryFilter) Normalize() {
	if f.Limit < 1 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if f.MinConfidence < 0 {
		f.MinConfidence = 0
	}
}

// InvoiceRecord is the stored outcome of processing one invoice.
type InvoiceRecord struct {
	ID                  string         `json:"id"`
	Vendor              string         `json:"vendor"`
	Decision            types.Decision `json:"decision"`
	ConfidenceScore     float64        `json:"confidence_score"`
	RequiresHumanReview bool           `json:"requires_human_review"`
	CorrectionCount     int            `json:"correction_count"`
	ProcessedAt         time.Time      `json:"processed_at"`
}

// PaginatedResult represents a paginated result set with type safety using generics.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T `json:"items"`

	// Total is the total number of items across all pages.
	Total int `json:"total"`

	// Page is the current page number (1-indexed).
	Page int `json:"page"`

	// PageSize is the number of items per page.
	PageSize int `json:"page_size"`

	// HasMore indicates whether there are more pages available.
	HasMore bool `json:"has_more"`
}

// ListOptions provides pagination and filtering options for list operations.
type ListOptions struct {
	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 10, max: 100).
	Limit int

	// Vendor filters by vendor. Empty string means no filter.
	Vendor string

	// RequiresReview, when non-nil, filters by the review flag.
	RequiresReview *bool
}

// Normalize applies defaults and validates the ListOptions.
func (o *ListOptions) Normalize() {
	if o.Page < 1 {
		o.Page = 1
	}

	if o.Limit < 1 {
		o.Limit = 10 // Default limit
	}

	if o.Limit > 100 {
		o.Limit = 100 // Max limit
	}
}

// Offset calculates the offset for SQL queries based on page and limit.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}
