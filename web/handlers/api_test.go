package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/invoice-memory/internal/engine"
	"github.com/scrypster/invoice-memory/internal/logging"
	"github.com/scrypster/invoice-memory/internal/services"
	"github.com/scrypster/invoice-memory/internal/storage"
	"github.com/scrypster/invoice-memory/internal/storage/resilient"
	"github.com/scrypster/invoice-memory/internal/storage/sqlite"
	"github.com/scrypster/invoice-memory/pkg/types"
	"github.com/scrypster/invoice-memory/web/handlers"
)

const vendor = "Supplier GmbH"

// MockMemoryStore is a mock implementation of storage.MemoryStore for testing.
type MockMemoryStore struct {
	mock.Mock
}

func (m *MockMemoryStore) Save(ctx context.Context, memory *types.Memory) error {
	return m.Called(ctx, memory).Error(0)
}

func (m *MockMemoryStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Memory), args.Error(1)
}

func (m *MockMemoryStore) Query(ctx context.Context, filter storage.QueryFilter) ([]*types.Memory, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.Memory), args.Error(1)
}

func (m *MockMemoryStore) UpdateConfidence(ctx context.Context, id string, confidence float64) error {
	return m.Called(ctx, id, confidence).Error(0)
}

func (m *MockMemoryStore) TouchUsage(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockMemoryStore) Deactivate(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockMemoryStore) Close() error {
	return m.Called().Error(0)
}

// newServiceOver wires the engine and service over the given stores.
func newServiceOver(t *testing.T, memories storage.MemoryStore, invoices storage.InvoiceStore) *services.InvoiceService {
	t.Helper()
	var resolver engine.VendorResolver
	if invoices != nil {
		cached, err := engine.NewCachedVendorResolver(engine.NewInvoiceStoreResolver(invoices), 16)
		require.NoError(t, err)
		resolver = cached
	}

	cfg := engine.DefaultConfig()
	manager, err := engine.NewManager(memories, resolver, cfg, logging.Discard())
	require.NoError(t, err)
	processor, err := engine.NewProcessor(manager, cfg, logging.Discard())
	require.NoError(t, err)

	return services.NewInvoiceService(processor, memories, invoices, services.Options{
		Resolver: resolver,
		Logger:   logging.Discard(),
	})
}

// newTestMux returns a mux with the API mounted over in-memory SQLite.
func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	store, err := sqlite.NewMemoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := newServiceOver(t, store, sqlite.NewInvoiceStore(store.GetDB()))
	h := handlers.NewAPIHandlers(svc, nil, logging.Discard())

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("/api/health", h.Health)
	return mux
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func testInvoice(id string) *types.Invoice {
	return &types.Invoice{
		ID:      id,
		Vendor:  vendor,
		RawText: "Rechnung 4711\nLeistungsdatum: 2024-01-10",
		ExtractedData: types.Fields{
			types.FieldInvoiceNumber: "4711",
			types.FieldDate:          "2024-01-15",
			types.FieldAmount:        1190.0,
			types.FieldCurrency:      "EUR",
			types.FieldVATAmount:     190.0,
			types.FieldVATIncluded:   false,
			types.FieldPONumber:      "PO-77",
		},
	}
}

func TestProcessInvoice(t *testing.T) {
	mux := newTestMux(t)

	w := do(t, mux, http.MethodPost, "/api/invoices/process", testInvoice("INV-1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result types.ProcessingResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.NotEmpty(t, result.Decision)
	assert.Len(t, result.AuditTrail, 4)
	require.NotNil(t, result.NormalizedInvoice)
	assert.Equal(t, "INV-1", result.NormalizedInvoice.ID)
}

func TestProcessInvoice_RejectsMissingVendor(t *testing.T) {
	mux := newTestMux(t)

	inv := testInvoice("INV-1")
	inv.Vendor = ""
	w := do(t, mux, http.MethodPost, "/api/invoices/process", inv)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid invoice")
}

func TestProcessInvoice_RejectsMalformedBody(t *testing.T) {
	mux := newTestMux(t)

	req := httptest.NewRequest(http.MethodPost, "/api/invoices/process", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	mux := newTestMux(t)

	w := do(t, mux, http.MethodGet, "/api/feedback", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, http.MethodPost, w.Header().Get("Allow"))
}

func TestFeedbackLoop(t *testing.T) {
	mux := newTestMux(t)

	w := do(t, mux, http.MethodPost, "/api/invoices/process", testInvoice("INV-1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	fb := types.HumanFeedback{
		InvoiceID: "INV-1",
		Corrections: []types.FeedbackCorrection{{
			Field:          types.FieldServiceDate,
			CorrectedValue: "2024-01-10",
			Reason:         "Leistungsdatum holds the service date",
		}},
	}
	w = do(t, mux, http.MethodPost, "/api/feedback", fb)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var fbResp handlers.FeedbackResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fbResp))
	require.Len(t, fbResp.Updates, 1)
	assert.Equal(t, types.UpdateCreate, fbResp.Updates[0].Kind)
	memoryID := fbResp.Updates[0].MemoryID
	require.NotEmpty(t, memoryID)

	w = do(t, mux, http.MethodGet, "/api/memories?vendor="+url.QueryEscape(vendor), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list handlers.MemoryListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	before := list.Memories[0].Confidence

	w = do(t, mux, http.MethodPost, "/api/memories/"+memoryID+"/reinforce", handlers.AdjustRequest{Strength: 0.05})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var reinforced types.Memory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reinforced))
	assert.InDelta(t, before+0.05, reinforced.Confidence, 1e-9)

	w = do(t, mux, http.MethodPost, "/api/memories/"+memoryID+"/weaken", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var weakened types.Memory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &weakened))
	assert.Less(t, weakened.Confidence, reinforced.Confidence)
}

func TestFeedback_UnknownInvoice(t *testing.T) {
	mux := newTestMux(t)

	fb := types.HumanFeedback{
		InvoiceID:   "INV-404",
		Corrections: []types.FeedbackCorrection{{Field: types.FieldCurrency, CorrectedValue: "EUR"}},
	}
	w := do(t, mux, http.MethodPost, "/api/feedback", fb)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFeedback_RejectsBlankField(t *testing.T) {
	mux := newTestMux(t)

	fb := types.HumanFeedback{
		InvoiceID:   "INV-1",
		Corrections: []types.FeedbackCorrection{{Field: "", CorrectedValue: "EUR"}},
	}
	w := do(t, mux, http.MethodPost, "/api/feedback", fb)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdjustMemory_Errors(t *testing.T) {
	mux := newTestMux(t)

	w := do(t, mux, http.MethodPost, "/api/memories/mem:vendor:missing/reinforce", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, mux, http.MethodPost, "/api/memories/mem:vendor:missing/weaken", handlers.AdjustRequest{Strength: 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListMemories_BadQuery(t *testing.T) {
	mux := newTestMux(t)

	w := do(t, mux, http.MethodGet, "/api/memories?type=opinion", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, mux, http.MethodGet, "/api/memories?min_confidence=high", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListInvoices(t *testing.T) {
	mux := newTestMux(t)

	for _, id := range []string{"INV-1", "INV-2"} {
		w := do(t, mux, http.MethodPost, "/api/invoices/process", testInvoice(id))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := do(t, mux, http.MethodGet, "/api/invoices?vendor="+url.QueryEscape(vendor), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page handlers.InvoiceListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Items, 2)

	w = do(t, mux, http.MethodGet, "/api/invoices?requires_review=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessBatch(t *testing.T) {
	mux := newTestMux(t)

	bad := testInvoice("INV-3")
	bad.Vendor = ""
	req := handlers.BatchRequest{
		Invoices: []*types.Invoice{testInvoice("INV-1"), bad, testInvoice("INV-2")},
		Workers:  2,
	}
	w := do(t, mux, http.MethodPost, "/api/invoices/batch", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp handlers.BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	assert.Equal(t, 1, resp.Failed)
	assert.Equal(t, "INV-3", resp.Results[1].InvoiceID)
	assert.NotEmpty(t, resp.Results[1].Error)
	assert.NotNil(t, resp.Results[0].Result)
}

func TestProcessBatch_Limits(t *testing.T) {
	store, err := sqlite.NewMemoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := newServiceOver(t, store, sqlite.NewInvoiceStore(store.GetDB()))
	h := handlers.NewAPIHandlers(svc, nil, logging.Discard())
	h.SetBatchLimits(handlers.BatchLimits{MaxInvoices: 4, MaxWorkers: 2})
	mux := http.NewServeMux()
	h.Register(mux)

	batch := func(n, workers int) handlers.BatchRequest {
		req := handlers.BatchRequest{Workers: workers}
		for i := 0; i < n; i++ {
			req.Invoices = append(req.Invoices, testInvoice(fmt.Sprintf("INV-%d", i)))
		}
		return req
	}

	tests := []struct {
		name        string
		invoices    int
		workers     int
		wantWorkers int
	}{
		{"requested above limit", 4, 1000, 2},
		{"unset uses limit", 4, 0, 2},
		{"negative uses limit", 3, -5, 2},
		{"capped by batch size", 1, 2, 1},
		{"within limit", 3, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, mux, http.MethodPost, "/api/invoices/batch", batch(tt.invoices, tt.workers))
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var resp handlers.BatchResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantWorkers, resp.Workers)
			assert.Len(t, resp.Results, tt.invoices)
		})
	}

	w := do(t, mux, http.MethodPost, "/api/invoices/batch", batch(5, 1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	list := do(t, mux, http.MethodGet, "/api/invoices?vendor="+url.QueryEscape(vendor), nil)
	require.Equal(t, http.StatusOK, list.Code)
	var invoices handlers.InvoiceListResponse
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &invoices))
	for _, rec := range invoices.Items {
		assert.NotEqual(t, "INV-4", rec.ID, "rejected batch must not be processed")
	}
}

func TestHealth(t *testing.T) {
	mux := newTestMux(t)

	w := do(t, mux, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var health handlers.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, handlers.Version, health.Version)
}

func TestStoreFailures_TripBreaker(t *testing.T) {
	inner := new(MockMemoryStore)
	inner.On("Query", mock.Anything, mock.Anything).Return(nil, errors.New("disk on fire"))

	store := resilient.New(inner, resilient.Config{
		MaxFailures:         1,
		Timeout:             time.Minute,
		HalfOpenMaxRequests: 1,
	}, logging.Discard())

	svc := newServiceOver(t, store, nil)
	h := handlers.NewAPIHandlers(svc, store, logging.Discard())
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("/api/health", h.Health)

	w := do(t, mux, http.MethodGet, "/api/memories", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = do(t, mux, http.MethodGet, "/api/memories", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(t, mux, http.MethodGet, "/api/health", nil)
	var health handlers.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "open", health.Breaker)

	inner.AssertNumberOfCalls(t, "Query", 1)
}
