package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scrypster/invoice-memory/internal/storage"
	"github.com/scrypster/invoice-memory/internal/storage/sqlite"
)

// countingResolver counts lookups that reach it.
type countingResolver struct {
	next  VendorResolver
	calls int
}

func (c *countingResolver) ResolveVendor(ctx context.Context, id string) (string, error) {
	c.calls++
	return c.next.ResolveVendor(ctx, id)
}

func TestInvoiceStoreResolver(t *testing.T) {
	store := newTestStore(t)
	invoices := sqlite.NewInvoiceStore(store.GetDB())
	ctx := context.Background()

	err := invoices.RecordInvoice(ctx, &storage.InvoiceRecord{ID: "INV-9", Vendor: testVendor, ProcessedAt: time.Now()})
	if err != nil {
		t.Fatalf("RecordInvoice() failed: %v", err)
	}

	r := NewInvoiceStoreResolver(invoices)
	vendor, err := r.ResolveVendor(ctx, "INV-9")
	if err != nil || vendor != testVendor {
		t.Errorf("ResolveVendor = (%q, %v), want %q", vendor, err, testVendor)
	}

	if _, err := r.ResolveVendor(ctx, "INV-missing"); !errors.Is(err, ErrVendorNotResolved) {
		t.Errorf("unknown invoice err = %v, want ErrVendorNotResolved", err)
	}
}

func TestCachedVendorResolver(t *testing.T) {
	inner := &countingResolver{next: staticResolver{"INV-1": testVendor}}
	r, err := NewCachedVendorResolver(inner, 8)
	if err != nil {
		t.Fatalf("NewCachedVendorResolver() failed: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if vendor, err := r.ResolveVendor(ctx, "INV-1"); err != nil || vendor != testVendor {
			t.Fatalf("ResolveVendor = (%q, %v)", vendor, err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner resolver called %d times, want 1", inner.calls)
	}

	// Failures are not cached.
	for i := 0; i < 2; i++ {
		if _, err := r.ResolveVendor(ctx, "INV-404"); !errors.Is(err, ErrVendorNotResolved) {
			t.Errorf("err = %v, want ErrVendorNotResolved", err)
		}
	}
	if inner.calls != 3 {
		t.Errorf("inner resolver called %d times, want 3", inner.calls)
	}

	r.Remember("INV-7", "Other AG")
	if vendor, _ := r.ResolveVendor(ctx, "INV-7"); vendor != "Other AG" {
		t.Errorf("remembered vendor = %q", vendor)
	}
}
