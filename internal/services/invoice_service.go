// Package services composes the engine with the invoice registry and the
// live event feed. HTTP handlers and the CLI call into it.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/scrypster/invoice-memory/internal/engine"
	"github.com/scrypster/invoice-memory/internal/storage"
	"github.com/scrypster/invoice-memory/pkg/types"
)

// Event types published to subscribers.
const (
	EventInvoiceProcessed  = "invoice_processed"
	EventFeedbackProcessed = "feedback_processed"
	EventMemoryAdjusted    = "memory_adjusted"
)

// Event is a message on the live decision feed.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Publisher receives events. The WebSocket hub implements it.
type Publisher interface {
	Broadcast(event any)
}

// vendorMemo is implemented by resolvers that can be primed with the vendor
// of a freshly recorded invoice.
type vendorMemo interface {
	Remember(invoiceID, vendor string)
}

// InvoiceService runs invoices and feedback through the engine and keeps the
// invoice registry up to date.
type InvoiceService struct {
	processor *engine.Processor
	memories  storage.MemoryStore
	invoices  storage.InvoiceStore
	memo      vendorMemo
	publisher Publisher
	logger    *log.Logger
}

// Options configures optional collaborators of an InvoiceService.
type Options struct {
	// Resolver, when it supports priming, is told about every recorded invoice.
	Resolver engine.VendorResolver

	// Publisher receives an event for every processed invoice and feedback.
	Publisher Publisher

	Logger *log.Logger
}

// NewInvoiceService creates an InvoiceService.
func NewInvoiceService(processor *engine.Processor, memories storage.MemoryStore, invoices storage.InvoiceStore, opts Options) *InvoiceService {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &InvoiceService{
		processor: processor,
		memories:  memories,
		invoices:  invoices,
		publisher: opts.Publisher,
		logger:    logger.WithPrefix("invoices"),
	}
	if memo, ok := opts.Resolver.(vendorMemo); ok {
		s.memo = memo
	}
	return s
}

// SetPublisher replaces the event publisher. Call it before the service is
// shared between goroutines.
func (s *InvoiceService) SetPublisher(p Publisher) {
	s.publisher = p
}

// Process runs one invoice through the pipeline and records the outcome.
func (s *InvoiceService) Process(ctx context.Context, inv *types.Invoice) (*types.ProcessingResult, error) {
	result, err := s.processor.ProcessInvoice(ctx, inv)
	if err != nil {
		return nil, err
	}

	if s.invoices != nil {
		record := &storage.InvoiceRecord{
			ID:                  inv.ID,
			Vendor:              inv.Vendor,
			Decision:            result.Decision,
			ConfidenceScore:     result.ConfidenceScore,
			RequiresHumanReview: result.RequiresHumanReview,
			CorrectionCount:     len(result.Corrections),
			ProcessedAt:         time.Now().UTC(),
		}
		if err := s.invoices.RecordInvoice(ctx, record); err != nil {
			return nil, fmt.Errorf("record invoice %s: %w", inv.ID, err)
		}
		if s.memo != nil {
			s.memo.Remember(inv.ID, inv.Vendor)
		}
	}

	s.publish(EventInvoiceProcessed, map[string]any{
		"invoice_id":            inv.ID,
		"vendor":                inv.Vendor,
		"decision":              result.Decision,
		"confidence_score":      result.ConfidenceScore,
		"requires_human_review": result.RequiresHumanReview,
		"corrections":           len(result.Corrections),
	})
	return result, nil
}

// SubmitFeedback learns from a reviewer's verdict.
func (s *InvoiceService) SubmitFeedback(ctx context.Context, feedback *types.HumanFeedback) ([]types.MemoryUpdate, error) {
	if feedback != nil && feedback.Timestamp.IsZero() {
		feedback.Timestamp = time.Now().UTC()
	}
	updates, err := s.processor.ProcessHumanFeedback(ctx, feedback)
	if err != nil {
		return nil, err
	}
	s.publish(EventFeedbackProcessed, map[string]any{
		"invoice_id": feedback.InvoiceID,
		"approved":   feedback.Approved,
		"updates":    updates,
	})
	return updates, nil
}

// AdjustMemory reinforces (positive delta) or weakens (negative delta) a
// memory by hand. It returns nil when the memory is unknown or inactive.
func (s *InvoiceService) AdjustMemory(ctx context.Context, id string, delta float64) (*types.Memory, error) {
	switch {
	case delta > 0:
		return s.ReinforceMemory(ctx, id, delta)
	case delta < 0:
		return s.WeakenMemory(ctx, id, -delta)
	}
	return nil, fmt.Errorf("%w: delta must be non-zero", storage.ErrInvalidInput)
}

// ReinforceMemory raises a memory's confidence. A non-positive strength uses
// the engine default.
func (s *InvoiceService) ReinforceMemory(ctx context.Context, id string, strength float64) (*types.Memory, error) {
	mem, err := s.processor.Manager().ReinforceMemory(ctx, id, strength)
	return s.adjusted(mem, err)
}

// WeakenMemory lowers a memory's confidence. A non-positive strength uses the
// engine default.
func (s *InvoiceService) WeakenMemory(ctx context.Context, id string, strength float64) (*types.Memory, error) {
	mem, err := s.processor.Manager().WeakenMemory(ctx, id, strength)
	return s.adjusted(mem, err)
}

func (s *InvoiceService) adjusted(mem *types.Memory, err error) (*types.Memory, error) {
	if err != nil || mem == nil {
		return mem, err
	}
	s.publish(EventMemoryAdjusted, map[string]any{
		"memory_id":  mem.ID,
		"confidence": mem.Confidence,
		"active":     mem.Active,
	})
	return mem, nil
}

// ListMemories returns active memories matching filter.
func (s *InvoiceService) ListMemories(ctx context.Context, filter storage.QueryFilter) ([]*types.Memory, error) {
	return s.memories.Query(ctx, filter)
}

// ListInvoices returns processed invoice records.
func (s *InvoiceService) ListInvoices(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[storage.InvoiceRecord], error) {
	if s.invoices == nil {
		return nil, errors.New("invoice registry is not configured")
	}
	return s.invoices.ListInvoices(ctx, opts)
}

// BatchResult is the outcome of one invoice in ProcessBatch.
type BatchResult struct {
	InvoiceID string                  `json:"invoice_id"`
	Result    *types.ProcessingResult `json:"result,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// ProcessBatch processes invoices with at most workers in flight and returns
// results in input order. A failing invoice does not stop the batch.
func (s *InvoiceService) ProcessBatch(ctx context.Context, invoices []*types.Invoice, workers int) []BatchResult {
	workers = max(1, min(workers, len(invoices)))

	results := make([]BatchResult, len(invoices))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				inv := invoices[i]
				br := BatchResult{}
				if inv != nil {
					br.InvoiceID = inv.ID
				}
				result, err := s.Process(ctx, inv)
				if err != nil {
					s.logger.Warn("invoice failed", "invoice_id", br.InvoiceID, "err", err)
					br.Error = err.Error()
				} else {
					br.Result = result
				}
				results[i] = br
			}
		}()
	}

	for i := range invoices {
		select {
		case jobs <- i:
		case <-ctx.Done():
			for j := i; j < len(invoices); j++ {
				if invoices[j] != nil {
					results[j].InvoiceID = invoices[j].ID
				}
				results[j].Error = ctx.Err().Error()
			}
			close(jobs)
			wg.Wait()
			return results
		}
	}
	close(jobs)
	wg.Wait()
	return results
}

func (s *InvoiceService) publish(eventType string, data any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Broadcast(Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data})
}
