package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/scrypster/invoice-memory/internal/logging"
	"github.com/scrypster/invoice-memory/internal/storage/sqlite"
	"github.com/scrypster/invoice-memory/pkg/types"
)

const testVendor = "Supplier GmbH"

// staticResolver resolves vendors by literal invoice ID.
type staticResolver map[string]string

func (r staticResolver) ResolveVendor(_ context.Context, invoiceID string) (string, error) {
	vendor, ok := r[invoiceID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrVendorNotResolved, invoiceID)
	}
	return vendor, nil
}

// newTestStore creates an in-memory SQLite store for testing.
func newTestStore(t *testing.T) *sqlite.MemoryStore {
	t.Helper()
	store, err := sqlite.NewMemoryStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestManager(t *testing.T) (*Manager, *sqlite.MemoryStore) {
	t.Helper()
	store := newTestStore(t)
	resolver := staticResolver{"INV-1": testVendor, "INV-2": testVendor}
	m, err := NewManager(store, resolver, DefaultConfig(), logging.Discard())
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	return m, store
}

func newTestProcessor(t *testing.T) (*Processor, *Manager, *sqlite.MemoryStore) {
	t.Helper()
	m, store := newTestManager(t)
	p, err := NewProcessor(m, DefaultConfig(), logging.Discard())
	if err != nil {
		t.Fatalf("NewProcessor() failed: %v", err)
	}
	return p, m, store
}

// completeInvoice returns an invoice with every heuristically checked field
// present, so only deliberately removed fields are flagged.
func completeInvoice(id string) *types.Invoice {
	return &types.Invoice{
		ID:      id,
		Vendor:  testVendor,
		RawText: "Rechnung Nr. 4711\nBetrag: 1190.00",
		ExtractedData: types.Fields{
			types.FieldInvoiceNumber: "4711",
			types.FieldDate:          "2024-01-15",
			types.FieldServiceDate:   "2024-01-12",
			types.FieldAmount:        1190.0,
			types.FieldCurrency:      "EUR",
			types.FieldVATAmount:     190.0,
			types.FieldVATIncluded:   false,
			types.FieldPONumber:      "PO-77",
		},
	}
}

func mustCreateVendor(t *testing.T, m *Manager, rule types.VendorRule, confidence float64) *types.Memory {
	t.Helper()
	mem, err := m.CreateVendorMemory(context.Background(), testVendor, rule, confidence)
	if err != nil {
		t.Fatalf("CreateVendorMemory() failed: %v", err)
	}
	return mem
}

func approxEqual(a, b float64) bool {
	const eps = 1e-9
	d := a - b
	return d < eps && d > -eps
}
