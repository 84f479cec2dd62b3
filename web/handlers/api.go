package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/cohesivestack/valgo"

	"github.com/scrypster/invoice-memory/internal/engine"
	"github.com/scrypster/invoice-memory/internal/services"
	"github.com/scrypster/invoice-memory/internal/storage"
	"github.com/scrypster/invoice-memory/internal/storage/resilient"
	"github.com/scrypster/invoice-memory/pkg/types"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// maxBodyBytes caps request bodies. Batches of extracted invoices stay well
// below it.
const maxBodyBytes = 4 << 20

// Default batch limits used when none are configured.
const (
	DefaultMaxBatchSize    = 500
	DefaultMaxBatchWorkers = 8
)

// BatchLimits bounds POST /api/invoices/batch. Non-positive fields select
// the defaults.
type BatchLimits struct {
	MaxInvoices int
	MaxWorkers  int
}

func (l BatchLimits) withDefaults() BatchLimits {
	if l.MaxInvoices < 1 {
		l.MaxInvoices = DefaultMaxBatchSize
	}
	if l.MaxWorkers < 1 {
		l.MaxWorkers = DefaultMaxBatchWorkers
	}
	return l
}

// BreakerStater reports the state of the store's circuit breaker.
type BreakerStater interface {
	State() string
}

// APIHandlers contains HTTP handlers for the REST API.
type APIHandlers struct {
	service *services.InvoiceService
	breaker BreakerStater
	limits  BatchLimits
	logger  *log.Logger
}

// NewAPIHandlers creates a new APIHandlers instance. breaker may be nil.
func NewAPIHandlers(service *services.InvoiceService, breaker BreakerStater, logger *log.Logger) *APIHandlers {
	if logger == nil {
		logger = log.Default()
	}
	return &APIHandlers{
		service: service,
		breaker: breaker,
		limits:  BatchLimits{}.withDefaults(),
		logger:  logger.WithPrefix("api"),
	}
}

// SetBatchLimits replaces the batch size and concurrency limits.
func (h *APIHandlers) SetBatchLimits(l BatchLimits) {
	h.limits = l.withDefaults()
}

// Register mounts the API routes on mux. Method checks happen inside each
// handler.
func (h *APIHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/invoices", h.ListInvoices)
	mux.HandleFunc("/api/invoices/process", h.ProcessInvoice)
	mux.HandleFunc("/api/invoices/batch", h.ProcessBatch)
	mux.HandleFunc("/api/feedback", h.SubmitFeedback)
	mux.HandleFunc("/api/memories", h.ListMemories)
	mux.HandleFunc("/api/memories/{id}/reinforce", h.ReinforceMemory)
	mux.HandleFunc("/api/memories/{id}/weaken", h.WeakenMemory)
}

// ProcessInvoice handles POST /api/invoices/process.
func (h *APIHandlers) ProcessInvoice(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var inv types.Invoice
	if err := decodeBody(w, r, &inv); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := validateInvoice(&inv); err != nil {
		respondError(w, http.StatusBadRequest, "invalid invoice", err)
		return
	}

	result, err := h.service.Process(r.Context(), &inv)
	if err != nil {
		h.fail(w, "failed to process invoice", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ProcessBatch handles POST /api/invoices/batch.
func (h *APIHandlers) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req BatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Invoices) == 0 {
		respondError(w, http.StatusBadRequest, "invoices are required", nil)
		return
	}
	if len(req.Invoices) > h.limits.MaxInvoices {
		respondError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("batch of %d invoices exceeds the limit of %d", len(req.Invoices), h.limits.MaxInvoices), nil)
		return
	}
	workers := batchWorkers(req.Workers, h.limits.MaxWorkers, len(req.Invoices))

	results := h.service.ProcessBatch(r.Context(), req.Invoices, workers)
	resp := BatchResponse{Results: results, Workers: workers}
	for _, res := range results {
		if res.Error != "" {
			resp.Failed++
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// batchWorkers caps the requested worker count by the configured maximum and
// the batch size. Zero requests the maximum.
func batchWorkers(requested, limit, invoices int) int {
	workers := requested
	if workers < 1 || workers > limit {
		workers = limit
	}
	return min(workers, invoices)
}

// SubmitFeedback handles POST /api/feedback.
func (h *APIHandlers) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var fb types.HumanFeedback
	if err := decodeBody(w, r, &fb); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := validateFeedback(&fb); err != nil {
		respondError(w, http.StatusBadRequest, "invalid feedback", err)
		return
	}

	updates, err := h.service.SubmitFeedback(r.Context(), &fb)
	if err != nil {
		h.fail(w, "failed to process feedback", err)
		return
	}
	if updates == nil {
		updates = []types.MemoryUpdate{}
	}
	respondJSON(w, http.StatusOK, FeedbackResponse{InvoiceID: fb.InvoiceID, Updates: updates})
}

// ListMemories handles GET /api/memories.
//
// Query parameters: vendor, type, field, pattern, min_confidence, limit.
func (h *APIHandlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	filter := storage.QueryFilter{
		Vendor:    q.Get("vendor"),
		Type:      types.MemoryType(q.Get("type")),
		FieldName: q.Get("field"),
		Pattern:   q.Get("pattern"),
		Limit:     parseInt(q.Get("limit"), storage.DefaultQueryLimit),
	}
	if filter.Type != "" && !types.IsValidMemoryType(filter.Type) {
		respondError(w, http.StatusBadRequest, "invalid memory type", fmt.Errorf("unknown type %q", filter.Type))
		return
	}
	if raw := q.Get("min_confidence"); raw != "" {
		minConf, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid min_confidence", err)
			return
		}
		filter.MinConfidence = minConf
	}

	memories, err := h.service.ListMemories(r.Context(), filter)
	if err != nil {
		h.fail(w, "failed to list memories", err)
		return
	}
	if memories == nil {
		memories = []*types.Memory{}
	}
	respondJSON(w, http.StatusOK, MemoryListResponse{Memories: memories, Count: len(memories)})
}

// ReinforceMemory handles POST /api/memories/{id}/reinforce.
func (h *APIHandlers) ReinforceMemory(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.service.ReinforceMemory)
}

// WeakenMemory handles POST /api/memories/{id}/weaken.
func (h *APIHandlers) WeakenMemory(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.service.WeakenMemory)
}

type adjustFunc func(ctx context.Context, id string, strength float64) (*types.Memory, error)

func (h *APIHandlers) adjust(w http.ResponseWriter, r *http.Request, fn adjustFunc) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memory ID is required", nil)
		return
	}

	var req AdjustRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}
	check := valgo.Is(valgo.Float64(req.Strength, "strength").Between(0.0, 1.0))
	if !check.Valid() {
		respondError(w, http.StatusBadRequest, "invalid strength", check.Error())
		return
	}

	mem, err := fn(r.Context(), id, req.Strength)
	if err != nil {
		h.fail(w, "failed to adjust memory", err)
		return
	}
	if mem == nil {
		respondError(w, http.StatusNotFound, "memory not found or inactive", nil)
		return
	}
	respondJSON(w, http.StatusOK, mem)
}

// ListInvoices handles GET /api/invoices.
//
// Query parameters: page, limit, vendor, requires_review.
func (h *APIHandlers) ListInvoices(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	opts := storage.ListOptions{
		Page:   parseInt(q.Get("page"), 1),
		Limit:  parseInt(q.Get("limit"), 10),
		Vendor: q.Get("vendor"),
	}
	if raw := q.Get("requires_review"); raw != "" {
		review, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid requires_review", err)
			return
		}
		opts.RequiresReview = &review
	}
	opts.Normalize()

	result, err := h.service.ListInvoices(r.Context(), opts)
	if err != nil {
		h.fail(w, "failed to list invoices", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Health handles GET /api/health.
func (h *APIHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	resp := HealthResponse{Status: "healthy", Version: Version}
	if h.breaker != nil {
		resp.Breaker = h.breaker.State()
		if resp.Breaker == "open" {
			resp.Status = "degraded"
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// fail maps service errors to HTTP status codes.
func (h *APIHandlers) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, "err", err)
	}
	respondError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidInvoice),
		errors.Is(err, engine.ErrInvalidFeedback),
		errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrVendorNotResolved),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, resilient.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func validateInvoice(inv *types.Invoice) error {
	v := valgo.Is(valgo.String(inv.ID, "id").Not().Blank()).
		Is(valgo.String(inv.Vendor, "vendor").Not().Blank())
	if !v.Valid() {
		return v.Error()
	}
	return nil
}

func validateFeedback(fb *types.HumanFeedback) error {
	v := valgo.Is(valgo.String(fb.InvoiceID, "invoice_id").Not().Blank())
	for i, c := range fb.Corrections {
		v.Is(valgo.String(c.Field, fmt.Sprintf("corrections[%d].field", i)).Not().Blank())
	}
	if !v.Valid() {
		return v.Error()
	}
	return nil
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// parseInt parses an integer query parameter, falling back to defaultValue.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent; nothing more to do.
		log.Error("failed to encode JSON response", "err", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}
