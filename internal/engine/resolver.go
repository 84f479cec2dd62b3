package engine

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scrypster/invoice-memory/internal/storage"
)

// VendorResolver maps a processed invoice's ID to its vendor.
type VendorResolver interface {
	ResolveVendor(ctx context.Context, invoiceID string) (string, error)
}

// InvoiceStoreResolver resolves vendors from the invoice registry.
type InvoiceStoreResolver struct {
	store storage.InvoiceStore
}

// NewInvoiceStoreResolver returns a resolver backed by store.
func NewInvoiceStoreResolver(store storage.InvoiceStore) *InvoiceStoreResolver {
	return &InvoiceStoreResolver{store: store}
}

// ResolveVendor implements VendorResolver.
func (r *InvoiceStoreResolver) ResolveVendor(ctx context.Context, invoiceID string) (string, error) {
	rec, err := r.store.GetInvoice(ctx, invoiceID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: invoice %q was never processed", ErrVendorNotResolved, invoiceID)
	}
	if err != nil {
		return "", fmt.Errorf("resolve vendor for %q: %w", invoiceID, err)
	}
	if rec.Vendor == "" {
		return "", fmt.Errorf("%w: invoice %q has no vendor", ErrVendorNotResolved, invoiceID)
	}
	return rec.Vendor, nil
}

// CachedVendorResolver memoizes successful resolutions in an LRU cache.
// An invoice's vendor never changes once recorded, so entries never expire.
type CachedVendorResolver struct {
	next  VendorResolver
	cache *lru.Cache[string, string]
}

// NewCachedVendorResolver wraps next with an LRU cache of the given size.
func NewCachedVendorResolver(next VendorResolver, size int) (*CachedVendorResolver, error) {
	if size < 1 {
		size = 1024
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create vendor cache: %w", err)
	}
	return &CachedVendorResolver{next: next, cache: cache}, nil
}

// ResolveVendor implements VendorResolver.
func (r *CachedVendorResolver) ResolveVendor(ctx context.Context, invoiceID string) (string, error) {
	if vendor, ok := r.cache.Get(invoiceID); ok {
		return vendor, nil
	}
	vendor, err := r.next.ResolveVendor(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	r.cache.Add(invoiceID, vendor)
	return vendor, nil
}

// Remember seeds the cache, typically right after an invoice is recorded.
func (r *CachedVendorResolver) Remember(invoiceID, vendor string) {
	if invoiceID != "" && vendor != "" {
		r.cache.Add(invoiceID, vendor)
	}
}
