// Package resilient wraps a storage.MemoryStore with a circuit breaker so a
// failing backend is short-circuited instead of stalling every invoice.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sony/gobreaker"

	"github.com/scrypster/invoice-memory/internal/storage"
	"github.com/scrypster/invoice-memory/pkg/types"
)

// ErrCircuitOpen is returned when the circuit breaker is open and the call
// was rejected without reaching the store.
var ErrCircuitOpen = errors.New("memory store circuit breaker is open")

// Config holds the configuration for the circuit breaker.
type Config struct {
	// MaxFailures is the number of consecutive failures required to trip the circuit.
	// Default: 5
	MaxFailures uint32

	// Timeout is the duration the circuit stays open before transitioning to half-open.
	// Default: 30 seconds
	Timeout time.Duration

	// HalfOpenMaxRequests is the number of requests allowed through while
	// half-open; that many consecutive successes close the circuit.
	// Default: 2
	HalfOpenMaxRequests uint32
}

// DefaultConfig returns the default breaker settings.
func DefaultConfig() Config {
	return Config{
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 2,
	}
}

// Metrics holds counters about breaker decisions.
type Metrics struct {
	TotalRequests        uint64 `json:"total_requests"`
	TotalFailures        uint64 `json:"total_failures"`
	Rejected             uint64 `json:"rejected"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}

// Store decorates a MemoryStore with a gobreaker circuit breaker.
//
// ErrNotFound and ErrInvalidInput are answers, not outages: they pass through
// without counting as failures.
type Store struct {
	inner   storage.MemoryStore
	breaker *gobreaker.CircuitBreaker

	mu      sync.Mutex
	metrics Metrics
}

var _ storage.MemoryStore = (*Store)(nil)

// New wraps inner with a breaker configured by cfg. Zero fields fall back to
// DefaultConfig values.
func New(inner storage.MemoryStore, cfg Config, logger *log.Logger) *Store {
	def := DefaultConfig()
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HalfOpenMaxRequests == 0 {
		cfg.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &Store{inner: inner}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "MemoryStore",
		MaxRequests: cfg.HalfOpenMaxRequests,
		Interval:    0,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

// isSuccessful treats domain answers as successes so only I/O failures trip
// the breaker.
func isSuccessful(err error) bool {
	return err == nil ||
		errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrInvalidInput) ||
		errors.Is(err, context.Canceled)
}

// State returns "closed", "open" or "half-open".
func (s *Store) State() string {
	return s.breaker.State().String()
}

// Metrics returns a snapshot of the breaker counters.
func (s *Store) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := s.breaker.Counts()
	m := s.metrics
	m.ConsecutiveFailures = counts.ConsecutiveFailures
	m.ConsecutiveSuccesses = counts.ConsecutiveSuccesses
	return m
}

func (s *Store) execute(fn func() (any, error)) (any, error) {
	result, err := s.breaker.Execute(fn)

	s.mu.Lock()
	s.metrics.TotalRequests++
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		s.metrics.Rejected++
	case !isSuccessful(err):
		s.metrics.TotalFailures++
	}
	s.mu.Unlock()

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return result, err
}

func (s *Store) run(fn func() error) error {
	_, err := s.execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// Save delegates to the wrapped store.
func (s *Store) Save(ctx context.Context, memory *types.Memory) error {
	return s.run(func() error { return s.inner.Save(ctx, memory) })
}

// Get delegates to the wrapped store.
func (s *Store) Get(ctx context.Context, id string) (*types.Memory, error) {
	result, err := s.execute(func() (any, error) { return s.inner.Get(ctx, id) })
	if err != nil {
		return nil, err
	}
	return result.(*types.Memory), nil
}

// Query delegates to the wrapped store.
func (s *Store) Query(ctx context.Context, filter storage.QueryFilter) ([]*types.Memory, error) {
	result, err := s.execute(func() (any, error) { return s.inner.Query(ctx, filter) })
	if err != nil {
		return nil, err
	}
	return result.([]*types.Memory), nil
}

// UpdateConfidence delegates to the wrapped store.
func (s *Store) UpdateConfidence(ctx context.Context, id string, confidence float64) error {
	return s.run(func() error { return s.inner.UpdateConfidence(ctx, id, confidence) })
}

// TouchUsage delegates to the wrapped store.
func (s *Store) TouchUsage(ctx context.Context, id string) error {
	return s.run(func() error { return s.inner.TouchUsage(ctx, id) })
}

// Deactivate delegates to the wrapped store.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	return s.run(func() error { return s.inner.Deactivate(ctx, id) })
}

// Close closes the wrapped store. It bypasses the breaker.
func (s *Store) Close() error {
	return s.inner.Close()
}
